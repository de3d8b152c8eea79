package mem

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sheafdata/sheaf/go/refstore"
	"github.com/sheafdata/sheaf/go/sherr"
	"github.com/sheafdata/sheaf/go/types"
)

const (
	commitA = types.CommitID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	commitB = types.CommitID("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	commitC = types.CommitID("cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
)

func TestCompareAndSet_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	datasetID := uuid.New()
	require.NoError(t, s.Create(ctx, refstore.Ref{DatasetID: datasetID, Name: types.MainRef, CommitID: commitA}))

	// Two writers race from the same expected tip; exactly one wins.
	require.NoError(t, s.CompareAndSet(ctx, datasetID, types.MainRef, commitA, commitB))
	err := s.CompareAndSet(ctx, datasetID, types.MainRef, commitA, commitC)
	require.True(t, sherr.IsKind(err, sherr.Conflict))

	ref, err := s.Get(ctx, datasetID, types.MainRef)
	require.NoError(t, err)
	require.Equal(t, commitB, ref.CommitID)
}

func TestCompareAndSet_UnbornRef(t *testing.T) {
	ctx := context.Background()
	s := New()
	datasetID := uuid.New()
	require.NoError(t, s.Create(ctx, refstore.Ref{DatasetID: datasetID, Name: types.MainRef}))

	// Expected empty matches an unborn ref.
	require.NoError(t, s.CompareAndSet(ctx, datasetID, types.MainRef, types.BadCommitID, commitA))

	// But not once it has a tip.
	err := s.CompareAndSet(ctx, datasetID, types.MainRef, types.BadCommitID, commitB)
	require.True(t, sherr.IsKind(err, sherr.Conflict))
}

func TestCompareAndSet_MissingRefIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.CompareAndSet(ctx, uuid.New(), "nope", commitA, commitB)
	require.True(t, sherr.IsKind(err, sherr.NotFound))
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	datasetID := uuid.New()
	require.NoError(t, s.Create(ctx, refstore.Ref{DatasetID: datasetID, Name: "dev"}))
	err := s.Create(ctx, refstore.Ref{DatasetID: datasetID, Name: "dev"})
	require.True(t, sherr.IsKind(err, sherr.Conflict))

	// Same name under another dataset is fine.
	require.NoError(t, s.Create(ctx, refstore.Ref{DatasetID: uuid.New(), Name: "dev"}))
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	datasetID := uuid.New()
	require.NoError(t, s.Create(ctx, refstore.Ref{DatasetID: datasetID, Name: types.MainRef, CommitID: commitA}))
	require.NoError(t, s.Create(ctx, refstore.Ref{DatasetID: datasetID, Name: "dev", CommitID: commitA}))

	refs, err := s.List(ctx, datasetID)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, types.RefName("dev"), refs[0].Name)

	require.NoError(t, s.Delete(ctx, datasetID, "dev"))
	err = s.Delete(ctx, datasetID, "dev")
	require.True(t, sherr.IsKind(err, sherr.NotFound))
}
