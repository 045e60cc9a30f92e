//go:build !linux

package capture

import (
	"fmt"

	"firestige.xyz/psniff/internal/core"
)

func openAFPacket(SourceConfig) (Source, error) {
	return nil, fmt.Errorf("%w: afpacket requires linux", core.ErrEngineUnsupported)
}
