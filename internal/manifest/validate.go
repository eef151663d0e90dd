package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// requiredHeader is the fixed manifest column schema, in order.
var requiredHeader = [3]string{"SerialNumber", "ProductCode", "UnprocessedImageUrls"}

// SchemaError reports a manifest whose header row does not match the
// required schema. The whole request is void; no rows are read.
type SchemaError struct {
	Header []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("manifest: invalid header %q, want %q",
		e.Header, requiredHeader[:])
}

// Validate inspects only the header row of a manifest. It succeeds iff the
// header is exactly the three required column names in the required order.
// Callers must not start ingestion until Validate returns nil.
func Validate(r io.Reader) error {
	const op = "manifest.Validate"

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("%s: read header: %w", op, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if len(header) != len(requiredHeader) ||
		header[0] != requiredHeader[0] ||
		header[1] != requiredHeader[1] ||
		header[2] != requiredHeader[2] {
		return &SchemaError{Header: header}
	}
	return nil
}
