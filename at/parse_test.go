package at_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/sim800gw/at"
)

func TestParseSignalQuality(t *testing.T) {
	q, err := at.ParseSignalQuality("\r\n+CSQ: 15,0\r\n\r\nOK\r\n")
	require.NoError(t, err)
	assert.Equal(t, at.SignalQuality{RSSI: 15, BER: 0}, q)
	assert.True(t, q.Known())
	assert.Equal(t, -84, q.DBm())

	q, err = at.ParseSignalQuality("+CSQ: 99,99\r\n")
	require.NoError(t, err)
	assert.False(t, q.Known())
	assert.Equal(t, 0, q.DBm())

	_, err = at.ParseSignalQuality("\r\nERROR\r\n")
	assert.True(t, errors.Is(err, at.ErrMalformed))

	_, err = at.ParseSignalQuality("+CSQ: x\r\n")
	assert.True(t, errors.Is(err, at.ErrMalformed))
}

func TestSignalQualityDBm(t *testing.T) {
	tests := []struct {
		rssi int
		want int
	}{
		{0, -115},
		{1, -111},
		{2, -110},
		{30, -54},
		{31, -52},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, at.SignalQuality{RSSI: tt.rssi}.DBm(), "rssi %d", tt.rssi)
	}
}

func TestParseActivityStatus(t *testing.T) {
	n, err := at.ParseActivityStatus("\r\n+CPAS: 4\r\n\r\nOK\r\n")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = at.ParseActivityStatus("\r\nOK\r\n")
	assert.True(t, errors.Is(err, at.ErrMalformed))
}

func TestParseClock(t *testing.T) {
	t.Run("Fixed offsets with timezone", func(t *testing.T) {
		got, err := at.ParseClock("\r\n+CCLK: \"19/01/17,10:06:21+14\"\r\n\r\nOK\r\n")
		require.NoError(t, err)

		want := time.Date(2019, time.January, 17, 10, 6, 21, 0, time.FixedZone("", 14*15*60))
		assert.True(t, want.Equal(got), "expected %v, got %v", want, got)
		_, offset := got.Zone()
		assert.Equal(t, 3*3600+30*60, offset)
	})

	t.Run("Negative timezone", func(t *testing.T) {
		got, err := at.ParseClock("+CCLK: \"24/12/31,23:59:59-20\"")
		require.NoError(t, err)
		_, offset := got.Zone()
		assert.Equal(t, -5*3600, offset)
	})

	t.Run("Too short", func(t *testing.T) {
		_, err := at.ParseClock("+CCLK: \"19/01/17\"")
		assert.True(t, errors.Is(err, at.ErrMalformed))
	})

	t.Run("Not numeric", func(t *testing.T) {
		_, err := at.ParseClock("+CCLK: \"yy/01/17,10:06:21+00\"")
		assert.True(t, errors.Is(err, at.ErrMalformed))
	})
}

func TestParseLocationTime(t *testing.T) {
	got, err := at.ParseLocationTime("\r\n+CIPGSMLOC: 0,2019/01/17,10:06:21\r\n\r\nOK\r\n")
	require.NoError(t, err)
	assert.True(t, time.Date(2019, time.January, 17, 10, 6, 21, 0, time.UTC).Equal(got), "got %v", got)

	_, err = at.ParseLocationTime("\r\n+CIPGSMLOC: 601\r\n\r\nOK\r\n")
	assert.Error(t, err)

	_, err = at.ParseLocationTime("\r\nERROR\r\n")
	assert.True(t, errors.Is(err, at.ErrMalformed))
}

func TestParseMessage(t *testing.T) {
	t.Run("Header and single line body", func(t *testing.T) {
		msg, err := at.ParseMessage("\r\n+CMGR: \"REC UNREAD\",\"+989132383246\",\"\",\"19/01/17,10:06:21+14\"\r\nMESSAGE TEXT\r\n\r\nOK\r\n")
		require.NoError(t, err)
		assert.Equal(t, at.Message{
			Status: "REC UNREAD",
			Sender: "+989132383246",
			Time:   "19/01/17,10:06:21+14",
			Text:   "MESSAGE TEXT",
		}, msg)
	})

	t.Run("Multi line body keeps inner line breaks", func(t *testing.T) {
		msg, err := at.ParseMessage("\r\n+CMGR: \"REC READ\",\"5550100\",\"\",\"19/01/17,10:06:21+14\"\r\nfirst\r\n\r\nthird OK\r\n\r\nOK\r\n")
		require.NoError(t, err)
		assert.Equal(t, "REC READ", msg.Status)
		assert.Equal(t, "first\r\n\r\nthird OK", msg.Text)
	})

	t.Run("Missing header", func(t *testing.T) {
		_, err := at.ParseMessage("\r\nOK\r\n")
		assert.True(t, errors.Is(err, at.ErrMalformed))
	})
}

func TestParseWhitelist(t *testing.T) {
	mode, numbers, err := at.ParseWhitelist("\r\n+CWHITELIST: 1,\"5550100\",\"5550101\",\"\"\r\n\r\nOK\r\n")
	require.NoError(t, err)
	assert.Equal(t, 1, mode)
	assert.Equal(t, []string{"5550100", "5550101"}, numbers)

	_, _, err = at.ParseWhitelist("\r\nOK\r\n")
	assert.True(t, errors.Is(err, at.ErrMalformed))
}
