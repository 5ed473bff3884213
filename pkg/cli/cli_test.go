package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"rcgraph/pkg/graph"
	"rcgraph/pkg/logger"
	"rcgraph/pkg/memory"
)

func findCmd(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// run executes the root command with a config and dotenv file that do
// not exist, so only defaults and args apply.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	root := NewRootCmd(logger.Test(t))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{
		"--config", filepath.Join(dir, "none.yaml"),
		"--env-file", filepath.Join(dir, "none.env"),
	}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Structure(t *testing.T) {
	root := NewRootCmd(logger.Nop())
	assert.Equal(t, "rcgraph", root.Use)
	for _, flag := range []string{"config", "env-file", "mode", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
	for _, name := range []string{"leak", "weak", "stress", "borrow", "cache", "inspect"} {
		assert.NotNil(t, findCmd(root, name), name)
	}
}

func TestLeakCmd(t *testing.T) {
	for _, mode := range []string{"single", "threadsafe"} {
		t.Run(mode, func(t *testing.T) {
			out, err := run(t, "--mode", mode, "leak", "--size", "3")
			require.NoError(t, err)
			assert.Contains(t, out, "ring of 3 nodes, back edge strong (mode "+mode+")")
			assert.Contains(t, out, "node 1: strong=2 weak=1 next=strong")
			assert.Contains(t, out, "live=[1 2 3] leaked=[1 2 3] cycles=[[1 2 3]]")
			assert.Contains(t, out, "after unlinking node 3: live=[] dropped=3")
		})
	}
}

func TestWeakCmd(t *testing.T) {
	out, err := run(t, "weak", "-n", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "back edge weak (mode single)")
	assert.Contains(t, out, "node 1: strong=1 weak=2 next=strong")
	assert.Contains(t, out, "walk from node 1: [1 2 3]")
	assert.Contains(t, out, "released node 1: live=[2 3]")
	assert.Contains(t, out, "node 3 upgrades its back edge: false")
	assert.Contains(t, out, "live=[] leaked=[] dropped=3")
}

func TestBorrowCmd(t *testing.T) {
	for _, mode := range []string{"single", "threadsafe"} {
		t.Run(mode, func(t *testing.T) {
			out, err := run(t, "-m", mode, "borrow")
			require.NoError(t, err)
			assert.Contains(t, out, "cell mode "+mode+", value 0")
			assert.Contains(t, out, "exclusive request: cell already borrowed")
			assert.Contains(t, out, "shared request: cell already borrowed")
			assert.Contains(t, out, "after both releases: value 10")
		})
	}
}

func TestCacheCmd(t *testing.T) {
	out, err := run(t, "cache")
	require.NoError(t, err)
	assert.Contains(t, out, "interned 6 words into 3 allocations (cache size 64)")
	assert.Contains(t, out, `released every "alpha" handle, lookup hit: false`)
	assert.Contains(t, out, "stats: hits=3 misses=4 expired=1 evicted=1 entries=2")
}

func TestStressCmd(t *testing.T) {
	out, err := run(t, "stress", "--workers", "4", "--iterations", "500")
	require.NoError(t, err)
	assert.Contains(t, out, "single-threaded handle used from another goroutine")
	assert.Contains(t, out, "workers=4 iterations=500 counter=2000 upgrades=2000 strong=1 weak=1")

	out, err = run(t, "-m", "arc", "stress", "-w", "2", "-i", "10")
	require.NoError(t, err)
	assert.NotContains(t, out, "another goroutine")
	assert.Contains(t, out, "counter=20")
}

func TestStress_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runStress(ctx, 2, 10, logger.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCrossGoroutineProbe(t *testing.T) {
	assert.ErrorIs(t, crossGoroutineProbe(), memory.ErrCrossGoroutine)
}

func TestInspectCmd_Stdout(t *testing.T) {
	out, err := run(t, "inspect", "-n", "2", "-o", "-")
	require.NoError(t, err)

	var snap graph.Snapshot
	require.NoError(t, yaml.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "single", snap.Mode)
	require.Len(t, snap.Nodes, 4)
	assert.Equal(t, []graph.NodeID{3, 4}, snap.Leaked)
	assert.Equal(t, [][]graph.NodeID{{3, 4}}, snap.Cycles)
	require.NotNil(t, snap.Nodes[1].Next)
	assert.Equal(t, "weak", snap.Nodes[1].Next.Kind)
	assert.Equal(t, graph.NodeID(1), snap.Nodes[1].Next.Target)
}

func TestInspectCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.yaml")
	out, err := run(t, "-m", "threadsafe", "inspect", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "written to "+path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "mode: threadsafe")
	assert.Contains(t, string(b), "leaked:")
}

func TestInvalidFlags(t *testing.T) {
	_, err := run(t, "-m", "quantum", "leak")
	assert.ErrorContains(t, err, `unknown memory mode "quantum"`)

	_, err = run(t, "leak", "--size", "0")
	assert.ErrorContains(t, err, "ring size must be at least 1")

	_, err = run(t, "stress", "-w", "0")
	assert.Error(t, err)
}
