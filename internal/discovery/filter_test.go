package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tss/internal/domain"
)

func cases(ids ...string) []domain.TestCase {
	out := make([]domain.TestCase, len(ids))
	for i, id := range ids {
		out[i] = domain.TestCase{ID: id}
	}
	return out
}

func ids(tests []domain.TestCase) []string {
	var out []string
	for _, tc := range tests {
		out = append(out, tc.ID)
	}
	return out
}

func TestFilter_FilterByName(t *testing.T) {
	filter := NewFilter()
	all := cases("./users.TestCreateUser", "./pay.TestPayment", "./orders.TestOrder", "./pay.TestPaymentService")

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{
			name:    "empty pattern returns all",
			pattern: "",
			want:    ids(all),
		},
		{
			name:    "wildcard pattern matches suffix",
			pattern: "*User",
			want:    []string{"./users.TestCreateUser"},
		},
		{
			name:    "wildcard pattern matches substring",
			pattern: "*Payment*",
			want:    []string{"./pay.TestPayment", "./pay.TestPaymentService"},
		},
		{
			name:    "simple contains match",
			pattern: "Order",
			want:    []string{"./orders.TestOrder"},
		},
		{
			name:    "package is not part of the name",
			pattern: "users",
			want:    nil,
		},
		{
			name:    "question mark matches one character",
			pattern: "TestOrde?",
			want:    []string{"./orders.TestOrder"},
		},
		{
			name:    "no matches",
			pattern: "*NonExistent*",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(filter.FilterByName(all, tt.pattern)))
		})
	}
}

func TestFilter_FilterByName_EdgeCases(t *testing.T) {
	filter := NewFilter()

	t.Run("empty test list", func(t *testing.T) {
		assert.Empty(t, filter.FilterByName(nil, "*Test"))
	})

	t.Run("pattern with multiple wildcards", func(t *testing.T) {
		tests := cases("a.TestUserService", "a.TestUserController", "a.TestPayment")
		assert.Len(t, filter.FilterByName(tests, "*User*"), 2)
	})

	t.Run("id without package matches whole id", func(t *testing.T) {
		assert.Len(t, filter.FilterByName(cases("TestBare"), "Bare"), 1)
	})
}
