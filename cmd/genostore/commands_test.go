package main

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/genostore/genostore/internal/keys"
)

func TestParseFileIDs(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "3", want: []int{3}},
		{in: "1,2, 5", want: []int{1, 2, 5}},
		{in: "4,,", want: []int{4}},
		{in: "", wantErr: true},
		{in: "1,x", wantErr: true},
		{in: "0", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseFileIDs(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseVariant(t *testing.T) {
	v, err := parseVariant("chr1:100:A:G")
	require.NoError(t, err)
	assert.Equal(t, keys.Variant{Chrom: "1", Pos: 100, Ref: "A", Alt: "G"}, v)

	for _, bad := range []string{"1:100:A", "1:x:A:G", "1:-4:A:G"} {
		_, err := parseVariant(bad)
		assert.Error(t, err, bad)
	}
}

func TestSortedCounters(t *testing.T) {
	assert.Equal(t, []string{"BUCKETS", "NEW_VARIANTS"}, sortedCounters(map[string]int64{"NEW_VARIANTS": 2, "BUCKETS": 1}))
}

func TestSetup_StoreFailureStopsMetricsEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	t.Setenv("GENOSTORE_METRICS_ADDR", addr)
	t.Setenv("GENOSTORE_DATA_DIR", t.TempDir())

	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	// A directory is not a database file.
	err = app.Run([]string{"genostore", "--log-level", "error", "study", t.TempDir(), "1", "cohort"})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		l.Close()
		return true
	}, 5*time.Second, 50*time.Millisecond, "metrics endpoint still listening on %s", addr)
}
