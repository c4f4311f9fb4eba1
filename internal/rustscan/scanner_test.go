package rustscan_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DCNick3/unsafe-track/internal/analysis"
	"github.com/DCNick3/unsafe-track/internal/rustscan"
)

func newScanner(t *testing.T) *rustscan.Scanner {
	t.Helper()

	scanner, err := rustscan.New()
	require.NoError(t, err)

	return scanner
}

func TestScanner_CountsFreeFunctions(t *testing.T) {
	t.Parallel()

	block, err := newScanner(t).Analyze(`
fn alpha() {}

unsafe fn beta() {}

pub unsafe fn gamma() {}
`)
	require.NoError(t, err)

	assert.Equal(t, analysis.Count{Safe: 1, Unsafe: 2}, block.Functions)
	assert.Equal(t, analysis.Count{}, block.Methods)
	assert.Equal(t, analysis.Count{}, block.ItemImpls)
}

func TestScanner_CountsMethodsInsideImpl(t *testing.T) {
	t.Parallel()

	block, err := newScanner(t).Analyze(`
struct Widget;

impl Widget {
    fn get(&self) -> u32 { 0 }

    unsafe fn poke(&mut self) {}
}
`)
	require.NoError(t, err)

	assert.Equal(t, analysis.Count{Safe: 1}, block.ItemImpls)
	assert.Equal(t, analysis.Count{Safe: 1, Unsafe: 1}, block.Methods)
	assert.Equal(t, analysis.Count{}, block.Functions)
}

func TestScanner_CountsTraits(t *testing.T) {
	t.Parallel()

	block, err := newScanner(t).Analyze(`
trait Plain {
    fn describe(&self) -> &str { "plain" }
}

unsafe trait Scary {}

unsafe impl Scary for () {}
`)
	require.NoError(t, err)

	assert.Equal(t, analysis.Count{Safe: 1, Unsafe: 1}, block.ItemTraits)
	assert.Equal(t, analysis.Count{Unsafe: 1}, block.ItemImpls)
	assert.Equal(t, analysis.Count{Safe: 1}, block.Methods)
}

func TestScanner_UnsafeBlockTaintsExpressions(t *testing.T) {
	t.Parallel()

	scanner := newScanner(t)

	safe, err := scanner.Analyze(`
fn safe_only() -> u32 {
    1 + 2
}
`)
	require.NoError(t, err)
	assert.Zero(t, safe.Exprs.Unsafe)
	assert.Positive(t, safe.Exprs.Safe)

	tainted, err := scanner.Analyze(`
fn touch(ptr: *const u32) -> u32 {
    unsafe { *ptr + 1 }
}
`)
	require.NoError(t, err)
	assert.Positive(t, tainted.Exprs.Unsafe)
}

func TestScanner_UnsafeFnBodyIsUnsafe(t *testing.T) {
	t.Parallel()

	block, err := newScanner(t).Analyze(`
unsafe fn all_in(ptr: *const u32) -> u32 {
    *ptr + 1
}
`)
	require.NoError(t, err)

	assert.Equal(t, analysis.Count{Unsafe: 1}, block.Functions)
	assert.Zero(t, block.Exprs.Safe)
	assert.Positive(t, block.Exprs.Unsafe)
}

func TestScanner_ParseError(t *testing.T) {
	t.Parallel()

	_, err := newScanner(t).Analyze("fn broken( {{{")
	require.ErrorIs(t, err, rustscan.ErrParse)
}

func TestScanner_EmptySource(t *testing.T) {
	t.Parallel()

	block, err := newScanner(t).Analyze("")
	require.NoError(t, err)
	assert.True(t, block.IsZero())
}

func TestScanner_ConcurrentAnalyze(t *testing.T) {
	t.Parallel()

	scanner := newScanner(t)

	const source = `
fn one() {}

impl Thing {
    unsafe fn two(&self) {}
}
`

	want, err := scanner.Analyze(source)
	require.NoError(t, err)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 50 {
				got, analyzeErr := scanner.Analyze(source)
				assert.NoError(t, analyzeErr)
				assert.Equal(t, want, got)
			}
		}()
	}

	wg.Wait()
}
