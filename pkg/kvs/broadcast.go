package kvs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/backkem/hap/pkg/hap"
)

// MaxBroadcastCharacteristics bounds how many characteristics of one
// accessory may have broadcasts enabled at the same time.
const MaxBroadcastCharacteristics = 42

// ErrInvalidBroadcastConfiguration is returned for a stored broadcast
// configuration that cannot be decoded.
var ErrInvalidBroadcastConfiguration = errors.New("kvs: invalid broadcast configuration")

// Broadcast is the broadcast setting of one characteristic.
type Broadcast struct {
	IID      uint16
	Interval uint8
}

// BroadcastConfiguration lists the characteristics of an accessory with
// broadcast notifications enabled, sorted by IID.
//
// Layout: aid (uint16 LE) | { iid (uint16 LE) | interval }...
type BroadcastConfiguration struct {
	AID        uint16
	Broadcasts []Broadcast
}

// MarshalBinary encodes the record.
func (c BroadcastConfiguration) MarshalBinary() ([]byte, error) {
	b := binary.LittleEndian.AppendUint16(nil, c.AID)
	for _, e := range c.Broadcasts {
		b = binary.LittleEndian.AppendUint16(b, e.IID)
		b = append(b, e.Interval)
	}
	return b, nil
}

// UnmarshalBinary decodes the record.
func (c *BroadcastConfiguration) UnmarshalBinary(b []byte) error {
	if len(b) < 2 || (len(b)-2)%3 != 0 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidBroadcastConfiguration, len(b))
	}
	c.AID = binary.LittleEndian.Uint16(b)
	c.Broadcasts = c.Broadcasts[:0]
	for i := 2; i < len(b); i += 3 {
		c.Broadcasts = append(c.Broadcasts, Broadcast{IID: binary.LittleEndian.Uint16(b[i:]), Interval: b[i+2]})
	}
	return nil
}

// Lookup returns the broadcast interval of iid and whether broadcasts are
// enabled.
func (c BroadcastConfiguration) Lookup(iid uint16) (uint8, bool) {
	i, ok := slices.BinarySearchFunc(c.Broadcasts, iid, func(e Broadcast, iid uint16) int {
		return int(e.IID) - int(iid)
	})
	if !ok {
		return 0, false
	}
	return c.Broadcasts[i].Interval, true
}

func findBroadcastConfiguration(s Store, aid uint16) (BroadcastConfiguration, Key, bool, error) {
	keys, err := s.Keys(DomainCharacteristicConfiguration)
	if err != nil {
		return BroadcastConfiguration{}, 0, false, err
	}
	for _, k := range keys {
		b, ok, err := s.Get(DomainCharacteristicConfiguration, k)
		if err != nil {
			return BroadcastConfiguration{}, 0, false, err
		}
		if !ok {
			continue
		}
		var c BroadcastConfiguration
		if err := c.UnmarshalBinary(b); err != nil {
			return BroadcastConfiguration{}, 0, false, err
		}
		if c.AID == aid {
			return c, k, true, nil
		}
	}
	// First unused key.
	var free Key
	for _, k := range keys {
		if k != free {
			break
		}
		free++
	}
	return BroadcastConfiguration{AID: aid}, free, false, nil
}

// ReadBroadcastConfiguration returns the broadcast configuration of an
// accessory. An accessory without one reports an empty configuration.
func ReadBroadcastConfiguration(s Store, aid uint16) (BroadcastConfiguration, error) {
	c, _, _, err := findBroadcastConfiguration(s, aid)
	return c, err
}

// EnableBroadcast enables broadcast notifications for iid with the given
// interval, replacing a previous interval.
func EnableBroadcast(s Store, aid, iid uint16, interval uint8) error {
	c, key, _, err := findBroadcastConfiguration(s, aid)
	if err != nil {
		return err
	}
	i, ok := slices.BinarySearchFunc(c.Broadcasts, iid, func(e Broadcast, iid uint16) int {
		return int(e.IID) - int(iid)
	})
	if ok {
		c.Broadcasts[i].Interval = interval
	} else {
		if len(c.Broadcasts) >= MaxBroadcastCharacteristics {
			return fmt.Errorf("kvs: too many broadcast characteristics: %w", hap.ErrOutOfResources)
		}
		c.Broadcasts = slices.Insert(c.Broadcasts, i, Broadcast{IID: iid, Interval: interval})
	}
	b, _ := c.MarshalBinary()
	return s.Set(DomainCharacteristicConfiguration, key, b)
}

// DisableBroadcast disables broadcast notifications for iid.
func DisableBroadcast(s Store, aid, iid uint16) error {
	c, key, found, err := findBroadcastConfiguration(s, aid)
	if err != nil || !found {
		return err
	}
	c.Broadcasts = slices.DeleteFunc(c.Broadcasts, func(e Broadcast) bool { return e.IID == iid })
	if len(c.Broadcasts) == 0 {
		return s.Remove(DomainCharacteristicConfiguration, key)
	}
	b, _ := c.MarshalBinary()
	return s.Set(DomainCharacteristicConfiguration, key, b)
}
