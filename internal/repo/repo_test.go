package repo

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubledice/ddindexer/internal/domain"
)

func TestCreateNewIsExclusive(t *testing.T) {
	r := New()

	tx := r.Begin()
	require.NoError(t, tx.Users.CreateNew(domain.User{ID: "0xaa"}))
	tx.Commit()

	tx = r.Begin()
	err := tx.Users.CreateNew(domain.User{ID: "0xaa"})
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Also exclusive against rows staged in the same transaction.
	tx = r.Begin()
	require.NoError(t, tx.Users.CreateNew(domain.User{ID: "0xbb"}))
	err = tx.Users.CreateNew(domain.User{ID: "0xbb"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestLoadExistentMissing(t *testing.T) {
	r := New()
	tx := r.Begin()

	_, err := tx.VirtualFloors.LoadExistent("0x1")
	require.Error(t, err)
	assert.True(t, domain.IsIntegrity(err))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadOrCreate(t *testing.T) {
	r := New()
	tx := r.Begin()

	u, created := tx.Users.LoadOrCreate("0xaa", func() domain.User {
		return domain.User{ID: "0xaa"}
	})
	assert.True(t, created)
	assert.Equal(t, "0xaa", u.ID)

	u.MaxConcurrentVirtualFloors = 5
	tx.Users.Put(u)

	u2, created := tx.Users.LoadOrCreate("0xaa", func() domain.User {
		t.Fatal("init must not run for an existing row")
		return domain.User{}
	})
	assert.False(t, created)
	assert.Equal(t, int64(5), u2.MaxConcurrentVirtualFloors)
}

func TestUncommittedTxIsInvisible(t *testing.T) {
	r := New()

	tx := r.Begin()
	require.NoError(t, tx.Users.CreateNew(domain.User{ID: "0xaa"}))
	// tx dropped without Commit.

	r.Read(func(s *State) {
		_, ok := s.Users.Get("0xaa")
		assert.False(t, ok, "staged row must not leak into committed state")
	})
}

func TestCommitPublishesAndReportsMutations(t *testing.T) {
	r := New()

	tx := r.Begin()
	require.NoError(t, tx.Outcomes.CreateNew(domain.Outcome{ID: "0x1-0", VirtualFloor: "0x1"}))
	o, err := tx.Outcomes.LoadExistent("0x1-0")
	require.NoError(t, err)
	o.TotalSupply = decimal.RequireFromString("12.5")
	tx.Outcomes.Put(o)
	muts := tx.Commit()

	// One mutation per row, not per Put.
	require.Len(t, muts.Outcomes, 1)
	assert.True(t, muts.Outcomes[0].TotalSupply.Equal(decimal.RequireFromString("12.5")))

	r.Read(func(s *State) {
		got, ok := s.Outcomes.Get("0x1-0")
		require.True(t, ok)
		assert.True(t, got.TotalSupply.Equal(decimal.RequireFromString("12.5")))
	})
}

func TestCompositeKeyCardinality(t *testing.T) {
	r := New()

	// Two writes to the same (outcome, user) pair can only ever address one
	// row: the key is the composite id.
	id := domain.UserOutcomeID("0x1-0", "0xaa")
	tx := r.Begin()
	tx.UserOutcomes.Put(domain.UserOutcome{ID: id, User: "0xaa", Outcome: "0x1-0"})
	tx.UserOutcomes.Put(domain.UserOutcome{ID: id, User: "0xaa", Outcome: "0x1-0",
		TotalBalance: decimal.NewFromInt(7)})
	tx.Commit()

	r.Read(func(s *State) {
		assert.Equal(t, 1, s.UserOutcomes.Len())
	})
}
