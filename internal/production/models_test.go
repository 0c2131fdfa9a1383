package production

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestOverridesApply(t *testing.T) {
	base := DefaultSystemConfig()
	assert.Equal(t, 30.0, base.Tilt)
	assert.Equal(t, 180.0, base.Azimuth)
	assert.Equal(t, 14.0, base.Losses)
	assert.Equal(t, ArrayFixedRoof, base.ArrayType)
	assert.Equal(t, ModuleStandard, base.ModuleType)
	assert.Equal(t, "intl", base.Dataset)

	cfg := Overrides{Tilt: ptr(45.0), ArrayType: ptr(ArrayOneAxis), Dataset: ptr("")}.Apply(base)
	assert.Equal(t, 45.0, cfg.Tilt)
	assert.Equal(t, ArrayOneAxis, cfg.ArrayType)
	assert.Equal(t, 180.0, cfg.Azimuth)
	assert.Equal(t, "intl", cfg.Dataset)
}

func TestOverridesValidate(t *testing.T) {
	assert.NoError(t, Overrides{}.Validate())
	assert.NoError(t, Overrides{Tilt: ptr(0.0), Azimuth: ptr(359.9), Losses: ptr(-5.0)}.Validate())

	cases := []Overrides{
		{Tilt: ptr(91.0)},
		{Azimuth: ptr(360.0)},
		{Losses: ptr(99.5)},
		{ArrayType: ptr(ArrayType(5))},
		{ModuleType: ptr(ModuleType(3))},
		{Dataset: ptr("mars")},
	}
	for _, o := range cases {
		err := o.Validate()
		assert.True(t, errors.Is(err, ErrInvalidParameters), "expected invalid parameters for %+v", o)
	}
}

func TestInconsistentErrorMatchesStorage(t *testing.T) {
	err := error(&inconsistentError{cause: errors.New("db down")})
	assert.True(t, errors.Is(err, ErrInconsistent))
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Contains(t, err.Error(), "db down")
}
