package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"swiftregistry/internal/swiftcode/models"
	"swiftregistry/internal/swiftcode/ports"
	"swiftregistry/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *InMemory
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewInMemory()
}

func newRecord(code, iso2 string) *models.Record {
	return models.NewRecord(code, "BANK", "STREET", iso2, "COUNTRY")
}

func codesOf(records []*models.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Code
	}
	return out
}

func (s *InMemoryStoreSuite) TestGet() {
	s.Run("missing code", func() {
		_, err := s.store.Get(s.ctx, "AAAABBCCXXX")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned records do not alias stored state", func() {
		s.Require().NoError(s.store.Put(s.ctx, newRecord("AAAABBCCXXX", "PL")))

		got, err := s.store.Get(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		got.InstitutionName = "CHANGED"

		again, err := s.store.Get(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.Equal("BANK", again.InstitutionName)
	})
}

func (s *InMemoryStoreSuite) TestQueries() {
	hq := newRecord("AAAABBCCXXX", "PL")
	branch := newRecord("AAAABBCC001", "PL")
	branch.SetHeadquarters(hq.Code)
	other := newRecord("DDDDEEFFXXX", "DE")
	s.Require().NoError(s.store.PutAll(s.ctx, []*models.Record{hq, branch, other}))

	byCountry, err := s.store.FindByCountry(s.ctx, "PL")
	s.Require().NoError(err)
	s.Equal([]string{"AAAABBCC001", "AAAABBCCXXX"}, codesOf(byCountry))

	lower, err := s.store.FindByCountry(s.ctx, "pl")
	s.Require().NoError(err)
	s.Empty(lower, "country match is exact")

	byPrefix, err := s.store.FindByPrefix(s.ctx, "AAAABBCC")
	s.Require().NoError(err)
	s.Equal([]string{"AAAABBCC001", "AAAABBCCXXX"}, codesOf(byPrefix))

	all, err := s.store.FindByPrefix(s.ctx, "")
	s.Require().NoError(err)
	s.Len(all, 3)

	children, err := s.store.FindByParent(s.ctx, "AAAABBCCXXX")
	s.Require().NoError(err)
	s.Equal([]string{"AAAABBCC001"}, codesOf(children))

	exists, err := s.store.Exists(s.ctx, "DDDDEEFFXXX")
	s.Require().NoError(err)
	s.True(exists)
}

func (s *InMemoryStoreSuite) TestPutRejectsDanglingParent() {
	branch := newRecord("AAAABBCC001", "PL")
	branch.SetHeadquarters("AAAABBCCXXX")

	err := s.store.Put(s.ctx, branch)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Zero(s.store.Len())
}

func (s *InMemoryStoreSuite) TestDeleteOrphansChildren() {
	hq := newRecord("AAAABBCCXXX", "PL")
	branch := newRecord("AAAABBCC001", "PL")
	branch.SetHeadquarters(hq.Code)
	s.Require().NoError(s.store.PutAll(s.ctx, []*models.Record{hq, branch}))

	deleted, err := s.store.Delete(s.ctx, hq.Code)
	s.Require().NoError(err)
	s.True(deleted)

	got, err := s.store.Get(s.ctx, branch.Code)
	s.Require().NoError(err)
	s.Nil(got.HeadquartersCode)

	deleted, err = s.store.Delete(s.ctx, hq.Code)
	s.Require().NoError(err)
	s.False(deleted)
}

func (s *InMemoryStoreSuite) TestRunInTx() {
	s.Run("error discards every write", func() {
		s.SetupTest()
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.RecordStore) error {
			s.Require().NoError(tx.Put(ctx, newRecord("AAAABBCCXXX", "PL")))
			exists, err := tx.Exists(ctx, "AAAABBCCXXX")
			s.Require().NoError(err)
			s.True(exists, "writes are visible inside the transaction")
			return boom
		})
		s.ErrorIs(err, boom)
		s.Zero(s.store.Len())
	})

	s.Run("uncommitted writes are invisible to readers", func() {
		s.SetupTest()
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.RecordStore) error {
			s.Require().NoError(tx.Put(ctx, newRecord("AAAABBCCXXX", "PL")))
			_, err := s.store.Get(ctx, "AAAABBCCXXX")
			s.ErrorIs(err, sentinel.ErrNotFound)
			return nil
		})
		s.Require().NoError(err)
		s.Equal(1, s.store.Len())
	})

	s.Run("delete then put inside one transaction", func() {
		s.SetupTest()
		s.Require().NoError(s.store.Put(s.ctx, newRecord("AAAABBCCXXX", "PL")))
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.RecordStore) error {
			if _, err := tx.Delete(ctx, "AAAABBCCXXX"); err != nil {
				return err
			}
			return tx.Put(ctx, newRecord("AAAABBCCXXX", "DE"))
		})
		s.Require().NoError(err)
		got, err := s.store.Get(s.ctx, "AAAABBCCXXX")
		s.Require().NoError(err)
		s.Equal("DE", got.CountryISO2)
	})

	s.Run("cancelled context", func() {
		s.SetupTest()
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		err := s.store.RunInTx(ctx, func(context.Context, ports.RecordStore) error { return nil })
		s.ErrorIs(err, context.Canceled)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentUnitsOfWorkSerialize() {
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.RecordStore) error {
				exists, err := tx.Exists(ctx, "AAAABBCCXXX")
				if err != nil || exists {
					return err
				}
				return tx.Put(ctx, newRecord("AAAABBCCXXX", "PL"))
			})
		}()
	}
	wg.Wait()
	s.Equal(1, s.store.Len())
}
