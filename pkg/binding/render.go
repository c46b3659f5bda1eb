package binding

import (
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// render converts a decoded ABI value into its string form
func render(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case *big.Int:
		if v == nil {
			return "0"
		}
		return v.String()
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case []byte:
		return hexutil.Encode(v)
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case uint8, uint16, uint32, uint64, int8, int16, int32, int64:
		return fmt.Sprintf("%d", v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Array:
		// bytesN
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, rv.Len())
			for i := range buf {
				buf[i] = byte(rv.Index(i).Uint())
			}
			return hexutil.Encode(buf)
		}
		return joinElems(rv)
	case reflect.Slice:
		return joinElems(rv)
	case reflect.Struct:
		// tuple
		parts := make([]string, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			parts[i] = render(rv.Field(i).Interface())
		}
		return strings.Join(parts, ",")
	case reflect.Ptr:
		if rv.IsNil() {
			return ""
		}
		return render(rv.Elem().Interface())
	}
	return fmt.Sprintf("%v", value)
}

func joinElems(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		parts[i] = render(rv.Index(i).Interface())
	}
	return strings.Join(parts, ",")
}
