package assets

import (
	_ "embed"
)

// DefaultProtectionYAML contains the embedded default protection rules.
//
//go:embed defaults/protection.yaml
var DefaultProtectionYAML []byte
