package lookupstore

import (
	"context"
	"testing"
	"time"

	"cargotrack-backend/internal/db"
	"cargotrack-backend/lib/configutil/dbconfig"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	sqlite, err := dbconfig.Config{File: ":memory:"}.OpenDB()
	require.NoError(t, err)
	defer sqlite.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	store := NewStore(sqlite)
	require.NoError(t, store.Migrate(ctx))
	// idempotent
	require.NoError(t, store.Migrate(ctx))

	{
		res, err := store.History(ctx, "HMMU6012345", 10)
		require.NoError(t, err)
		require.Len(t, res, 0)

		_, found, err := store.Latest(ctx, "HMMU6012345")
		require.NoError(t, err)
		require.False(t, found)
	}

	start := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	driver := Entry{
		Time:           start,
		TrackingNumber: "HMMU6012345",
		Carrier:        "HMM",
		Source:         db.SOURCE_DRIVER,
		Status:         "In Transit",
		LiveETA:        "12-Jan-2026",
		Summary:        "On time.",
	}
	api := Entry{
		Time:           start.Add(time.Hour),
		TrackingNumber: "HMMU6012345",
		Carrier:        "HMM",
		Source:         db.SOURCE_API,
		Status:         "IN_TRANSIT",
		LiveETA:        "2026-01-12T08:00:00",
		Summary:        "API Status: Vessel departure. CO2: 12 kg",
	}
	missing := Entry{
		Time:           start.Add(2 * time.Hour),
		TrackingNumber: "HMMU6012345",
		Carrier:        "HMM",
		Source:         db.SOURCE_NOTFOUND,
		Status:         "Not Found",
	}
	other := Entry{
		Time:           start,
		TrackingNumber: "TGBU5550001",
		Carrier:        "MSC",
		Source:         db.SOURCE_NOTFOUND,
		Status:         "Not Found",
	}
	require.NoError(t, store.Record(ctx, driver, api))
	require.NoError(t, store.Record(ctx, missing, other))
	require.NoError(t, store.Record(ctx))

	{
		res, err := store.History(ctx, "HMMU6012345", 10)
		require.NoError(t, err)
		if diff := cmp.Diff([]Entry{missing, api, driver}, res); diff != "" {
			t.Fatal(diff)
		}

		res, err = store.History(ctx, "HMMU6012345", 1)
		require.NoError(t, err)
		require.Len(t, res, 1)

		latest, found, err := store.Latest(ctx, "HMMU6012345")
		require.NoError(t, err)
		require.True(t, found)
		if diff := cmp.Diff(api, latest); diff != "" {
			t.Fatal(diff)
		}
	}

	{
		deleted, err := store.Prune(ctx, start.Add(30*time.Minute))
		require.NoError(t, err)
		require.EqualValues(t, 2, deleted)

		res, err := store.History(ctx, "HMMU6012345", 10)
		require.NoError(t, err)
		require.Len(t, res, 2)
	}
}
