package monitor

import (
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/purchase.json
var purchaseSchema []byte

// ContractMonitor validates incoming request bodies against a JSON schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor creates a new ContractMonitor with the given schema file path.
// The schemaPath should be an absolute path or relative to the execution directory.
func NewContractMonitor(schemaPath string) (*ContractMonitor, error) {
	abs, err := filepath.Abs(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("error resolving schema path %s: %w", schemaPath, err)
	}
	return newContractMonitor(gojsonschema.NewReferenceLoader("file://"+filepath.ToSlash(abs)), schemaPath)
}

// NewPurchaseMonitor validates purchase bodies against the built-in schema.
func NewPurchaseMonitor() (*ContractMonitor, error) {
	return newContractMonitor(gojsonschema.NewBytesLoader(purchaseSchema), "purchase")
}

func newContractMonitor(loader gojsonschema.JSONLoader, name string) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", name, err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate validates the given request body against the loaded JSON schema.
// It returns true if valid, or false and a list of validation errors if invalid.
// Error strings never echo the offending values, so card data stays out of responses and logs.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return false, errors, nil
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
