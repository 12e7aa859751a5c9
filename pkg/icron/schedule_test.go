package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("0 0 * * * *"))
	assert.NoError(t, Validate("@hourly"))
	assert.NoError(t, Validate("*/30 * * * * *"))

	assert.Error(t, Validate("not a cron"))
	assert.Error(t, Validate(""))
}

func TestGetTriggerInfo_HourlySchedule(t *testing.T) {
	ref := time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC)

	info, err := GetTriggerInfo("0 0 * * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, "0 0 * * * *", info.Expression)
	assert.Equal(t, time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 30*time.Minute, info.TimeSinceLast)
	assert.Equal(t, 30*time.Minute, info.TimeUntilNext)
}

func TestGetTriggerInfo_DailyDescriptor(t *testing.T) {
	ref := time.Date(2026, time.March, 10, 6, 0, 0, 0, time.UTC)

	info, err := GetTriggerInfo("@daily", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC), info.Last)
}

func TestGetTriggerInfo_InvalidExpression(t *testing.T) {
	_, err := GetTriggerInfo("bogus", time.Now())
	require.Error(t, err)
}
