package stickyapp

import "github.com/example/stickyapp/tools/loadgen/internal/config"

// EncryptionParams configure the keys of a new encrypted session.
type EncryptionParams struct {
	EncoderMin           float64 `json:"encoder_min"`
	EncoderMax           float64 `json:"encoder_max"`
	EncoderPrecisionBits int     `json:"encoder_precision_bits"`
	EncoderPaddingBits   int     `json:"encoder_padding_bits"`
	SecretKeyDimensions  int     `json:"secret_key_dimensions"`
	SecretKeyLog2StdDev  int     `json:"secret_key_log2_std_dev"`
}

// DefaultEncryptionParams returns the parameters the stickyapp-rust
// profile uses.
func DefaultEncryptionParams() EncryptionParams {
	return EncryptionParams{
		EncoderMin:           0.0,
		EncoderMax:           99.0,
		EncoderPrecisionBits: 16,
		EncoderPaddingBits:   6,
		SecretKeyDimensions:  1024,
		SecretKeyLog2StdDev:  -40,
	}
}

// ParamsFromConfig converts the configuration section, falling back to
// defaults for anything unset.
func ParamsFromConfig(cfg config.EncryptionConfig) EncryptionParams {
	p := DefaultEncryptionParams()
	if cfg.EncoderMin != nil {
		p.EncoderMin = *cfg.EncoderMin
	}
	if cfg.EncoderMax != nil {
		p.EncoderMax = *cfg.EncoderMax
	}
	if cfg.EncoderPrecisionBits != 0 {
		p.EncoderPrecisionBits = cfg.EncoderPrecisionBits
	}
	if cfg.EncoderPaddingBits != 0 {
		p.EncoderPaddingBits = cfg.EncoderPaddingBits
	}
	if cfg.SecretKeyDimensions != 0 {
		p.SecretKeyDimensions = cfg.SecretKeyDimensions
	}
	if cfg.SecretKeyLog2StdDev != 0 {
		p.SecretKeyLog2StdDev = cfg.SecretKeyLog2StdDev
	}
	return p
}
