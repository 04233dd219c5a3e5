package driver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbtransfer/adbtransfer/internal/transport"
	"github.com/adbtransfer/adbtransfer/internal/xerrors"
)

func TestRun_Success(t *testing.T) {
	fake := transport.NewFake(transport.Device{Serial: "d1"})
	calls := 0
	fake.ShellFunc = func(serial, cmd string) ([]string, error) {
		switch {
		case strings.Contains(cmd, "ps | grep"):
			calls++
			if calls >= 2 {
				fake.Remote["d1"] = map[string]int64{"/sdcard/tmp/.reassembly_complete": 2}
			}
			return []string{"123 unified.sh"}, nil
		case strings.Contains(cmd, "-type f"):
			return []string{"/sdcard/tmp/out.bin"}, nil
		case strings.Contains(cmd, "-name batch"):
			return nil, nil
		default:
			return nil, nil
		}
	}

	d := New(fake, nil)
	d.Sleep = func(time.Duration) {}

	outcome, err := d.Run(context.Background(), transport.Device{Serial: "d1"}, "/sdcard/tmp", "/sdcard/dest", Options{
		ReassemblyTimeout:     200 * time.Millisecond,
		PollInterval:          time.Millisecond,
		VerifyAfterReassembly: true,
	})
	require.NoError(t, err)
	assert.True(t, outcome.ReassemblyOK)
	assert.True(t, outcome.MovedOK)
}

// S6: the reassembly script never writes the marker and its process keeps
// showing up in ps, so the driver surfaces a timeout once the deadline
// passes rather than hanging forever.
func TestRun_Timeout(t *testing.T) {
	fake := transport.NewFake(transport.Device{Serial: "d2"})
	fake.ShellFunc = func(serial, cmd string) ([]string, error) {
		if strings.Contains(cmd, "ps | grep") {
			return []string{"123 unified.sh"}, nil
		}
		return nil, nil
	}

	d := New(fake, nil)
	d.Sleep = func(time.Duration) {}

	_, err := d.Run(context.Background(), transport.Device{Serial: "d2"}, "/sdcard/tmp", "/sdcard/dest", Options{
		ReassemblyTimeout: 20 * time.Millisecond,
		PollInterval:      time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrTimeout))
}

// When the reassembly process vanishes from ps without the marker ever
// appearing, the driver declares failure after one extra 2s grace check
// instead of waiting out the full timeout.
func TestRun_ProcessExitsWithoutMarker(t *testing.T) {
	fake := transport.NewFake(transport.Device{Serial: "d3"})
	fake.ShellFunc = func(serial, cmd string) ([]string, error) {
		if strings.Contains(cmd, "ps | grep") {
			return nil, nil
		}
		return nil, nil
	}

	d := New(fake, nil)
	var slept []time.Duration
	d.Sleep = func(dur time.Duration) { slept = append(slept, dur) }

	_, err := d.Run(context.Background(), transport.Device{Serial: "d3"}, "/sdcard/tmp", "/sdcard/dest", Options{
		ReassemblyTimeout: time.Hour,
		PollInterval:      time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerrors.ErrTimeout))
	require.NotEmpty(t, slept)
	assert.Equal(t, 2*time.Second, slept[0])
}
