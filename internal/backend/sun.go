package backend

import (
	"time"

	"github.com/nathan-osman/go-sunrise"
	"go.uber.org/zap"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/service"
)

// SunOptions is the position of a Sun location.
type SunOptions struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Elevation float64 `mapstructure:"elevation"`
}

// Sun computes sunrise and sunset for a fixed position.
type Sun struct {
	id       string
	location string
	opts     SunOptions
	logger   *zap.SugaredLogger
}

// NewSun builds a Sun from c.
func NewSun(c Config, logger *zap.SugaredLogger) (*Sun, error) {
	var opts SunOptions
	if err := c.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if opts.Latitude < -90 || opts.Latitude > 90 {
		return nil, kerr.Validation("sun.New", "latitude", "latitude %f is not within [-90, 90]", opts.Latitude)
	}
	if opts.Longitude < -180 || opts.Longitude > 180 {
		return nil, kerr.Validation("sun.New", "longitude", "longitude %f is not within [-180, 180]", opts.Longitude)
	}
	return &Sun{id: c.ID, location: c.Location, opts: opts, logger: logger}, nil
}

func (s *Sun) ID() string       { return s.id }
func (s *Sun) Location() string { return s.location }

// Local implements service.LocalService. Sunrise and Sunset are the next
// events after now; it is day if the sun sets before it rises again.
func (s *Sun) Local(now time.Time) (service.LocalInfo, error) {
	rise, set, err := s.next(now)
	if err != nil {
		return service.LocalInfo{}, err
	}
	return service.LocalInfo{
		ID:         s.id,
		Location:   s.location,
		Latitude:   s.opts.Latitude,
		Longitude:  s.opts.Longitude,
		Elevation:  s.opts.Elevation,
		IsDaylight: set.Before(rise),
		Sunrise:    rise.Unix(),
		Sunset:     set.Unix(),
	}, nil
}

// next searches the following days for the next sunrise and sunset.
// Polar day or night yields zero times which are skipped.
func (s *Sun) next(now time.Time) (rise, set time.Time, err error) {
	now = now.UTC()
	for d := -1; d <= 2; d++ {
		day := now.AddDate(0, 0, d)
		r, st := sunrise.SunriseSunset(s.opts.Latitude, s.opts.Longitude, day.Year(), day.Month(), day.Day())
		if rise.IsZero() && !r.IsZero() && r.After(now) {
			rise = r
		}
		if set.IsZero() && !st.IsZero() && st.After(now) {
			set = st
		}
	}
	if rise.IsZero() || set.IsZero() {
		return rise, set, kerr.New(kerr.KindBackend, "sun.Local", "no sunrise or sunset at %s near %s", s.id, now.Format(time.DateOnly))
	}
	s.logger.Debugf("Next sunrise at %s and sunset at %s", rise, set)
	return rise, set, nil
}
