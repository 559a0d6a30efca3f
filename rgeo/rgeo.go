// Package rgeo infers a country code from a point, for inputs that carry none.
package rgeo

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	srgeo "github.com/sams96/rgeo"
)

type ReverseGeocoder interface {
	GetLocation(pt orb.Point) (srgeo.Location, error)
}

// rR is the type of our wrapped rgeo.Rgeo instance, which implements the ReverseGeocoder interface.
type rR srgeo.Rgeo

func (rr *rR) GetLocation(pt orb.Point) (srgeo.Location, error) {
	return (*srgeo.Rgeo)(rr).ReverseGeocode(pt)
}

// Countries10 is the only dataset loaded; country polygons at 1:10m.
var Countries10 = srgeo.Countries10

var (
	r       *rR
	initErr error
	once    sync.Once
)

var ErrNoCountry = errors.New("no country at point")

// R returns the process-wide reverse geocoder, loading it on first use.
// Loading takes a few seconds.
func R() (ReverseGeocoder, error) {
	once.Do(func() {
		r1, err := srgeo.New(Countries10)
		if err != nil {
			initErr = fmt.Errorf("load rgeo countries: %w", err)
			return
		}
		r = (*rR)(r1)
	})
	if initErr != nil {
		return nil, initErr
	}
	return r, nil
}

// CountryCode returns the ISO 3166-1 alpha-2 code of the country at pt.
func CountryCode(pt orb.Point) (string, error) {
	rg, err := R()
	if err != nil {
		return "", err
	}
	return countryCode(rg, pt)
}

func countryCode(rg ReverseGeocoder, pt orb.Point) (string, error) {
	loc, err := rg.GetLocation(pt)
	if err != nil {
		return "", fmt.Errorf("%w: %v: %v", ErrNoCountry, pt, err)
	}
	code := strings.ToUpper(strings.TrimSpace(loc.CountryCode2))
	if len(code) != 2 {
		return "", fmt.Errorf("%w: %v", ErrNoCountry, pt)
	}
	return code, nil
}
