package stickyapp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/stickyapp/tools/loadgen/internal/config"
)

func TestDefaultEncryptionParams_Wire(t *testing.T) {
	b, err := json.Marshal(DefaultEncryptionParams())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"encoder_min": 0.0,
		"encoder_max": 99.0,
		"encoder_precision_bits": 16,
		"encoder_padding_bits": 6,
		"secret_key_dimensions": 1024,
		"secret_key_log2_std_dev": -40
	}`, string(b))
}

func TestParamsFromConfig(t *testing.T) {
	t.Run("empty config gives defaults", func(t *testing.T) {
		assert.Equal(t, DefaultEncryptionParams(), ParamsFromConfig(config.EncryptionConfig{}))
	})

	t.Run("overrides", func(t *testing.T) {
		minV, maxV := -5.0, 5.0
		p := ParamsFromConfig(config.EncryptionConfig{
			EncoderMin:          &minV,
			EncoderMax:          &maxV,
			SecretKeyDimensions: 2048,
			SecretKeyLog2StdDev: -60,
		})
		assert.Equal(t, -5.0, p.EncoderMin)
		assert.Equal(t, 5.0, p.EncoderMax)
		assert.Equal(t, 2048, p.SecretKeyDimensions)
		assert.Equal(t, -60, p.SecretKeyLog2StdDev)
		assert.Equal(t, 16, p.EncoderPrecisionBits)
		assert.Equal(t, 6, p.EncoderPaddingBits)
	})
}
