package scheduler_test

import (
	"testing"
	"time"

	"github.com/dukex/fileflow/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCron(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: "*/5 * * * *"},
		{expr: "0 9 * * 1-5"},
		{expr: "@daily"},
		{expr: "  0 0 1 * *  "},
		{expr: "", wantErr: true},
		{expr: "* * * *", wantErr: true},
		{expr: "61 * * * *", wantErr: true},
		{expr: "0 0 0 * * *", wantErr: true},
		{expr: "every day", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()

			err := scheduler.ValidateCron(tt.expr)
			if tt.wantErr {
				assert.ErrorIs(t, err, scheduler.ErrInvalidCron)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNextFireTime(t *testing.T) {
	t.Parallel()

	last := time.Date(2024, 3, 10, 10, 15, 0, 0, time.UTC)

	next, err := scheduler.NextFireTime("0 * * * *", last)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC), next)

	// a fire exactly on the boundary moves to the following activation
	again, err := scheduler.NextFireTime("0 * * * *", next)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), again)

	_, err = scheduler.NextFireTime("bogus", last)
	assert.ErrorIs(t, err, scheduler.ErrInvalidCron)
}

func TestNextRunTimes(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 1, 1, 23, 50, 0, 0, time.UTC)

	times, err := scheduler.NextRunTimes("0 9 * * 1-5", from, 3)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC),
	}, times)

	none, err := scheduler.NextRunTimes("@hourly", from, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
