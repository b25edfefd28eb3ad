package kvs

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/hap/pkg/hap"
)

func storeContract(t *testing.T, s Store) {
	t.Helper()

	_, ok, err := s.Get(DomainPairings, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(DomainPairings, 3, []byte{0xC}))
	require.NoError(t, s.Set(DomainPairings, 1, []byte{0xA}))
	require.NoError(t, s.Set(DomainConfiguration, KeyConfigurationNumber, []byte{1, 0, 0, 0}))

	v, ok, err := s.Get(DomainPairings, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0xA}, v)

	// Returned slices are copies.
	v[0] = 0xFF
	v, _, _ = s.Get(DomainPairings, 1)
	assert.Equal(t, []byte{0xA}, v)

	keys, err := s.Keys(DomainPairings)
	require.NoError(t, err)
	assert.Equal(t, []Key{1, 3}, keys)

	require.NoError(t, s.Remove(DomainPairings, 1))
	require.NoError(t, s.Remove(DomainPairings, 1))
	keys, _ = s.Keys(DomainPairings)
	assert.Equal(t, []Key{3}, keys)

	require.NoError(t, s.PurgeDomain(DomainPairings))
	keys, _ = s.Keys(DomainPairings)
	assert.Empty(t, keys)

	_, ok, _ = s.Get(DomainConfiguration, KeyConfigurationNumber)
	assert.True(t, ok, "purge must not touch other domains")
}

func TestMemory(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestFile(t *testing.T) {
	t.Run("Contract", func(t *testing.T) {
		f, err := OpenFile(filepath.Join(t.TempDir(), "kvs", "store.cbor"))
		require.NoError(t, err)
		storeContract(t, f)
	})

	t.Run("Reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "store.cbor")
		f, err := OpenFile(path)
		require.NoError(t, err)
		require.NoError(t, f.Set(DomainPairings, 7, []byte("record")))
		require.NoError(t, f.Close())

		g, err := OpenFile(path)
		require.NoError(t, err)
		v, ok, err := g.Get(DomainPairings, 7)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("record"), v)
	})

	t.Run("Closed", func(t *testing.T) {
		f, err := OpenFile(filepath.Join(t.TempDir(), "store.cbor"))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		assert.ErrorIs(t, f.Set(DomainPairings, 1, nil), ErrStoreClosed)
	})

	t.Run("Corrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "store.cbor")
		require.NoError(t, os.WriteFile(path, []byte{0xFF, 0x00}, 0600))
		_, err := OpenFile(path)
		assert.Error(t, err)
	})
}

func TestBroadcastParameters(t *testing.T) {
	t.Run("Layout", func(t *testing.T) {
		p := BroadcastParameters{KeyExpirationGSN: 0x1234, HasAdvertisingID: true}
		p.Key[0] = 0xAA
		p.AdvertisingID = [6]byte{1, 2, 3, 4, 5, 6}

		b, err := p.MarshalBinary()
		require.NoError(t, err)
		require.Len(t, b, BroadcastParametersSize)
		assert.Equal(t, byte(0x34), b[0])
		assert.Equal(t, byte(0x12), b[1])
		assert.Equal(t, byte(0xAA), b[2])
		assert.Equal(t, byte(0x01), b[34])
		assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, b[35:])

		var q BroadcastParameters
		require.NoError(t, q.UnmarshalBinary(b))
		assert.Equal(t, p, q)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		s := NewMemory()
		require.NoError(t, s.Set(DomainConfiguration, KeyBroadcastParameters, make([]byte, 40)))
		_, err := ReadBroadcastParameters(s)

		var lenErr *RecordLengthError
		require.True(t, errors.As(err, &lenErr))
		assert.Equal(t, 40, lenErr.Got)
		assert.Equal(t, BroadcastParametersSize, lenErr.Want)
	})

	t.Run("MissingIsZero", func(t *testing.T) {
		p, err := ReadBroadcastParameters(NewMemory())
		require.NoError(t, err)
		assert.False(t, p.KeyValid())
	})
}

func TestGenerateBroadcastKey(t *testing.T) {
	s := NewMemory()
	secret := make([]byte, 32)
	ltpk := make([]byte, 32)
	ltpk[0] = 1

	advID := [6]byte{9, 8, 7, 6, 5, 4}
	require.NoError(t, GenerateBroadcastKey(s, secret, ltpk, &advID))

	p, err := ReadBroadcastParameters(s)
	require.NoError(t, err)
	// GSN defaults to 1.
	assert.Equal(t, uint16(1+BroadcastKeyValidity-1), p.KeyExpirationGSN)
	assert.NotEqual(t, [32]byte{}, p.Key)
	assert.True(t, p.HasAdvertisingID)
	assert.Equal(t, advID, p.AdvertisingID)

	t.Run("Wraps", func(t *testing.T) {
		require.NoError(t, s.Set(DomainConfiguration, KeyBLEGSN, []byte{0x00, 0xF0})) // 61440
		require.NoError(t, GenerateBroadcastKey(s, secret, ltpk, nil))
		p, err := ReadBroadcastParameters(s)
		require.NoError(t, err)
		assert.Equal(t, uint16(61440+BroadcastKeyValidity-1-65535), p.KeyExpirationGSN)
		assert.Equal(t, advID, p.AdvertisingID, "advertising ID kept")
	})

	t.Run("Expire", func(t *testing.T) {
		require.NoError(t, ExpireBroadcastKey(s))
		p, err := ReadBroadcastParameters(s)
		require.NoError(t, err)
		assert.False(t, p.KeyValid())
		assert.Equal(t, [32]byte{}, p.Key)
		assert.True(t, p.HasAdvertisingID)
	})
}

func TestGSN(t *testing.T) {
	s := NewMemory()
	gsn, err := ReadGSN(s)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), gsn)

	gsn, err = IncrementGSN(s)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), gsn)

	require.NoError(t, s.Set(DomainConfiguration, KeyBLEGSN, []byte{0xFF, 0xFF}))
	gsn, err = IncrementGSN(s)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), gsn)

	t.Run("ExpiresKey", func(t *testing.T) {
		require.NoError(t, WriteBroadcastParameters(s, BroadcastParameters{KeyExpirationGSN: 2, Key: [32]byte{1}}))
		_, err := IncrementGSN(s)
		require.NoError(t, err)
		p, _ := ReadBroadcastParameters(s)
		assert.False(t, p.KeyValid())
	})

	t.Run("BadLength", func(t *testing.T) {
		require.NoError(t, s.Set(DomainConfiguration, KeyBLEGSN, []byte{1}))
		_, err := ReadGSN(s)
		var lenErr *RecordLengthError
		assert.ErrorAs(t, err, &lenErr)
	})
}

func TestConfigurationNumber(t *testing.T) {
	s := NewMemory()
	cn, err := ReadConfigurationNumber(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cn)

	cn, err = IncrementConfigurationNumber(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cn)

	require.NoError(t, WriteConfigurationNumber(s, 300))
	cn, err = ReadConfigurationNumber(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(300), cn)

	require.NoError(t, WriteConfigurationNumber(s, math.MaxUint32))
	cn, err = IncrementConfigurationNumber(s)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cn)
}

func TestBroadcastConfiguration(t *testing.T) {
	s := NewMemory()

	c, err := ReadBroadcastConfiguration(s, 1)
	require.NoError(t, err)
	assert.Empty(t, c.Broadcasts)

	require.NoError(t, EnableBroadcast(s, 1, 20, 0x02))
	require.NoError(t, EnableBroadcast(s, 1, 10, 0x01))
	require.NoError(t, EnableBroadcast(s, 1, 20, 0x03))

	b, ok, err := s.Get(DomainCharacteristicConfiguration, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x00, 10, 0x00, 0x01, 20, 0x00, 0x03}, b)

	c, err = ReadBroadcastConfiguration(s, 1)
	require.NoError(t, err)
	interval, ok := c.Lookup(20)
	assert.True(t, ok)
	assert.Equal(t, uint8(0x03), interval)
	_, ok = c.Lookup(15)
	assert.False(t, ok)

	require.NoError(t, DisableBroadcast(s, 1, 10))
	require.NoError(t, DisableBroadcast(s, 1, 20))
	keys, _ := s.Keys(DomainCharacteristicConfiguration)
	assert.Empty(t, keys, "empty configuration is removed")

	t.Run("Full", func(t *testing.T) {
		s := NewMemory()
		for i := range MaxBroadcastCharacteristics {
			require.NoError(t, EnableBroadcast(s, 1, uint16(i+1), 0x01))
		}
		err := EnableBroadcast(s, 1, 100, 0x01)
		assert.ErrorIs(t, err, hap.ErrOutOfResources)
	})

	t.Run("Corrupt", func(t *testing.T) {
		s := NewMemory()
		require.NoError(t, s.Set(DomainCharacteristicConfiguration, 0, []byte{1, 0, 5}))
		_, err := ReadBroadcastConfiguration(s, 1)
		assert.ErrorIs(t, err, ErrInvalidBroadcastConfiguration)
	})
}
