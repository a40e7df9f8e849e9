package dln

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"dlnIndexer/internal/model"
)

const discriminatorSize = 8

var (
	createOrderWithNonceDiscriminator = []byte{130, 131, 98, 190, 40, 206, 68, 50}
	fulfillOrderDiscriminator         = []byte{61, 214, 39, 248, 65, 212, 153, 36}
)

// Instruction names keyed by the hex of their 8-byte discriminator.
var discriminatorNames = map[string]string{
	hex.EncodeToString(createOrderWithNonceDiscriminator): "CreateOrderWithNonce",
	hex.EncodeToString(fulfillOrderDiscriminator):         "FulfillOrder",
}

// MatchDiscriminator reports the instruction name whose discriminator prefixes data.
func MatchDiscriminator(data []byte) (discriminator string, name string, ok bool) {
	if len(data) < discriminatorSize {
		return "", "", false
	}
	discriminator = hex.EncodeToString(data[:discriminatorSize])
	name, ok = discriminatorNames[discriminator]
	return discriminator, name, ok
}

// Encoding names how instruction data was serialized by the transport.
type Encoding string

const (
	EncodingBase58 Encoding = "base58"
	EncodingBase64 Encoding = "base64"
)

// DecodeInstructionData turns transport-encoded instruction data into bytes.
// Raw byte slices are returned as is.
func DecodeInstructionData(data interface{}, encoding Encoding) ([]byte, error) {
	switch typed := data.(type) {
	case []byte:
		return typed, nil
	case string:
		switch encoding {
		case EncodingBase58:
			return base58.Decode(typed)
		case EncodingBase64:
			return base64.StdEncoding.DecodeString(typed)
		default:
			return nil, fmt.Errorf("unknown instruction encoding: %s", encoding)
		}
	default:
		return nil, fmt.Errorf("unsupported instruction data type %T", data)
	}
}

// Filter selects transactions that invoke one of the tracked order instructions.
type Filter struct {
	logger *zap.Logger
}

// NewFilter creates a Filter. Each match is logged; a nil logger discards output.
func NewFilter(logger *zap.Logger) *Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filter{logger: logger}
}

// IsTarget reports whether any top-level instruction matches a known discriminator.
func (f *Filter) IsTarget(tx *model.Transaction) bool {
	if tx == nil {
		return false
	}
	for _, ix := range tx.Instructions {
		discriminator, name, ok := MatchDiscriminator(ix.Data)
		if !ok {
			continue
		}
		f.logger.Info("discriminator found",
			zap.String("signature", tx.Signature),
			zap.String("discriminator", discriminator),
			zap.String("name", name),
		)
		return true
	}
	return false
}
