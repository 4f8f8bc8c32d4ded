package store

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	n int
}

func TestStore_UpdateCreatesOnFirstUse(t *testing.T) {
	s := New[counter]()

	created := 0
	s.Update("k", func() *counter { created++; return &counter{} }, func(e *counter) {
		e.n++
	})
	s.Update("k", func() *counter { created++; return &counter{} }, func(e *counter) {
		e.n++
	})

	assert.Equal(t, 1, created)

	var got int
	require.True(t, s.View("k", func(e *counter) { got = e.n }))
	assert.Equal(t, 2, got)
}

func TestStore_ViewMissingKey(t *testing.T) {
	s := New[counter]()
	assert.False(t, s.View("absent", func(*counter) {}))
}

func TestStore_SameKeySerializes(t *testing.T) {
	s := New[counter]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update("same-key", func() *counter { return &counter{} }, func(e *counter) {
				e.n++
			})
		}()
	}
	wg.Wait()

	var got int
	require.True(t, s.View("same-key", func(e *counter) { got = e.n }))
	assert.Equal(t, 100, got)
}

func TestStore_DifferentKeysNoInterference(t *testing.T) {
	s := New[counter]()
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		key := "key-" + strconv.Itoa(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Update(key, func() *counter { return &counter{} }, func(e *counter) {
				e.n++
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, s.Len())
}

func TestStore_Sweep(t *testing.T) {
	s := New[counter]()
	for i := 0; i < 10; i++ {
		key := "key-" + strconv.Itoa(i)
		s.Update(key, func() *counter { return &counter{n: i} }, func(*counter) {})
	}

	evicted := s.Sweep(func(_ string, e *counter) bool {
		return e.n%2 == 0
	})

	assert.Equal(t, 5, evicted)
	assert.Equal(t, 5, s.Len())
}

func TestStore_Delete(t *testing.T) {
	s := New[counter]()
	s.Update("k", func() *counter { return &counter{n: 1} }, func(*counter) {})
	s.Delete("k")

	assert.False(t, s.View("k", func(*counter) {}))
	assert.Equal(t, 0, s.Len())
}

func TestHashString(t *testing.T) {
	// Same string should produce same hash
	assert.Equal(t, hashString("test"), hashString("test"))

	// Different strings should (usually) produce different hashes
	assert.NotEqual(t, hashString("test1"), hashString("test2"))

	// Empty string should produce 0
	assert.Equal(t, uint32(0), hashString(""))
}
