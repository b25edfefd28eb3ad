package procedure

import (
	"fmt"
	"time"

	"github.com/backkem/hap/pkg/ble/pdu"
	"github.com/backkem/hap/pkg/hap"
	"github.com/backkem/hap/pkg/model"
	"github.com/backkem/hap/pkg/tlv"
)

// ttlUnit is the resolution of the HAP-Param-TTL of a timed write.
const ttlUnit = 100 * time.Millisecond

// Origin values.
const (
	originLocal  = 0x00
	originRemote = 0x01
)

// writeParams are the parameters of a characteristic write request.
type writeParams struct {
	value          []byte
	authData       []byte
	remote         bool
	ttl            uint8
	returnResponse bool
}

func parseWriteParams(body []byte, c *model.Characteristic) (writeParams, error) {
	var wp writeParams

	values, err := tlv.Parse(body,
		pdu.ParamValue, pdu.ParamAdditionalAuthorization, pdu.ParamOrigin, pdu.ParamTTL, pdu.ParamReturnResponse)
	if err != nil {
		return wp, err
	}

	value, ok := values.Get(pdu.ParamValue)
	if !ok {
		return wp, fmt.Errorf("procedure: write without value: %w", hap.ErrInvalidData)
	}
	if len(value) > MaxValueSize {
		return wp, fmt.Errorf("procedure: value of %d bytes exceeds %d: %w", len(value), MaxValueSize, hap.ErrInvalidData)
	}
	wp.value = value

	origin, ok, err := values.Uint8(pdu.ParamOrigin)
	if err != nil {
		return wp, err
	}
	if ok {
		switch origin {
		case originLocal:
		case originRemote:
			wp.remote = true
		default:
			return wp, fmt.Errorf("procedure: invalid origin %d: %w", origin, hap.ErrInvalidData)
		}
	}

	if authData, ok := values.Get(pdu.ParamAdditionalAuthorization); ok && c.Properties.SupportsAuthorizationData {
		wp.authData = authData
	}

	if wp.ttl, _, err = values.Uint8(pdu.ParamTTL); err != nil {
		return wp, err
	}

	rr, ok, err := values.Uint8(pdu.ParamReturnResponse)
	if err != nil {
		return wp, err
	}
	if ok {
		if rr != 1 {
			return wp, fmt.Errorf("procedure: invalid return response %d: %w", rr, hap.ErrInvalidData)
		}
		wp.returnResponse = true
	}
	return wp, nil
}

// timedWriteExpired reports whether the TTL of a timed write elapsed
// between the Timed-Write request at start and now.
func (wp writeParams) timedWriteExpired(start, now time.Time) (bool, error) {
	if wp.ttl == 0 {
		return false, fmt.Errorf("procedure: timed write without ttl: %w", hap.ErrInvalidData)
	}
	return now.Sub(start) > time.Duration(wp.ttl)*ttlUnit, nil
}
