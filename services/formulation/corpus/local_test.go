// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureCSV = `id,name,smiles,formula,description,tags,max_concentration
asc-001,Ascorbic Acid,OC1=C(O)C(=O)OC1C(O)CO,C6H8O6,Water-soluble vitamin C with poor oxidative stability,cosmetic_db;inci,20
asc-002,3-O-Ethyl Ascorbic Acid,CCOC1=C(O)C(=O)OC1C(O)CO,C8H12O6,Stable water-soluble vitamin C derivative for brightening,cosmetic_db,5
asc-003,Magnesium Ascorbyl Phosphate,,C6H6MgO9P,Stable vitamin C salt derivative soluble in water,pharma_db,3
nia-001,Niacinamide,NC(=O)c1cccnc1,C6H6N2O,Water-soluble vitamin B3 for barrier support,cosmetic_db,10
ret-001,Retinol,,C20H30O,Fat-soluble vitamin A derivative sensitive to light,cosmetic_db,0.3
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingredients.csv")
	require.NoError(t, os.WriteFile(path, []byte(fixtureCSV), 0644))
	return path
}

func TestLoadCSV(t *testing.T) {
	records, err := LoadCSV(writeFixture(t))
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, "asc-001", records[0].ID)
	assert.Equal(t, "Ascorbic Acid", records[0].Name)
	assert.Equal(t, "C6H8O6", records[0].Formula)
	assert.Equal(t, []string{"cosmetic_db", "inci"}, records[0].SourceTags)
	assert.Equal(t, 20.0, records[0].MaxConcentration)
}

func TestLoadCSV_MissingFile(t *testing.T) {
	_, err := LoadCSV("/nonexistent/ingredients.csv")
	assert.Error(t, err)
}

func TestLocalCorpus_QueryRanksRelevantFirst(t *testing.T) {
	c, err := OpenLocalCorpus(writeFixture(t), nil)
	require.NoError(t, err)
	defer c.Close()

	records, err := c.Query(context.Background(), "Stable water-soluble Vitamin C derivative", 10)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	// The ethyl derivative matches every query token; it must lead.
	assert.Equal(t, "asc-002", records[0].ID)
	for _, r := range records {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestLocalCorpus_QueryDeterministic(t *testing.T) {
	c, err := OpenLocalCorpus(writeFixture(t), nil)
	require.NoError(t, err)
	defer c.Close()

	first, err := c.Query(context.Background(), "stable vitamin c", 10)
	require.NoError(t, err)

	for range 5 {
		again, err := c.Query(context.Background(), "stable vitamin c", 10)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestLocalCorpus_QueryNoMatch(t *testing.T) {
	c, err := OpenLocalCorpus(writeFixture(t), nil)
	require.NoError(t, err)
	defer c.Close()

	records, err := c.Query(context.Background(), "zirconium alloy turbine blade", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLocalCorpus_QueryLimit(t *testing.T) {
	c, err := OpenLocalCorpus(writeFixture(t), nil)
	require.NoError(t, err)
	defer c.Close()

	records, err := c.Query(context.Background(), "water-soluble vitamin", 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestLocalCorpus_HotReload(t *testing.T) {
	path := writeFixture(t)
	c, err := OpenLocalCorpus(path, nil)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, 5, c.Len())

	extended := fixtureCSV + "hya-001,Hyaluronic Acid,,C14H21NO11,Water-binding humectant polymer,cosmetic_db,2\n"
	require.NoError(t, os.WriteFile(path, []byte(extended), 0644))

	assert.Eventually(t, func() bool {
		return c.Len() == 6
	}, 3*time.Second, 20*time.Millisecond, "watcher should pick up the new row")
}

func TestLocalCorpus_ReloadKeepsSnapshotOnParseError(t *testing.T) {
	path := writeFixture(t)
	c, err := OpenLocalCorpus(path, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, os.WriteFile(path, []byte("id,name\nbroken"), 0644))

	// Give the watcher a moment; the snapshot must survive.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 5, c.Len())
}

func TestSortRecords_TieBreaksOnID(t *testing.T) {
	records := []Record{
		{ID: "b", Score: 0.5},
		{ID: "a", Score: 0.5},
		{ID: "c", Score: 0.9},
	}
	SortRecords(records)
	assert.Equal(t, []string{"c", "a", "b"}, []string{records[0].ID, records[1].ID, records[2].ID})
}

func TestFallbackCorpus_UsesSecondaryOnPrimaryFailure(t *testing.T) {
	secondary := NewLocalCorpus([]Record{{ID: "x-1", Name: "Vitamin C", Description: "vitamin c"}}, nil)
	primary := &failingCorpus{}

	f := NewFallbackCorpus(primary, secondary, nil)
	records, err := f.Query(context.Background(), "vitamin c", 5)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "x-1", records[0].ID)

	assert.NoError(t, f.Ready(context.Background()))
}

func TestFallbackCorpus_NoSecondaryPropagates(t *testing.T) {
	f := NewFallbackCorpus(&failingCorpus{}, nil, nil)
	_, err := f.Query(context.Background(), "vitamin c", 5)
	assert.ErrorIs(t, err, ErrCorpusUnavailable)
}

type failingCorpus struct{}

func (f *failingCorpus) Query(context.Context, string, int) ([]Record, error) {
	return nil, ErrCorpusUnavailable
}

func (f *failingCorpus) Ready(context.Context) error {
	return errors.New("down")
}

func TestDeterministicObjectID_Stable(t *testing.T) {
	a := deterministicObjectID("asc-001", 0)
	b := deterministicObjectID("asc-001", 0)
	c := deterministicObjectID("asc-001", 1)
	d := deterministicObjectID("asc-002", 0)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 36)
}
