package models

// SourceType selects the connector family of a source.
type SourceType string

const (
	SourceTypeFile     SourceType = "file"
	SourceTypeDatabase SourceType = "database"
	SourceTypeAPI      SourceType = "api"
	SourceTypeStream   SourceType = "stream"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	return oneOf(t, SourceTypeFile, SourceTypeDatabase, SourceTypeAPI, SourceTypeStream)
}

// TargetType selects the connector family of a target.
type TargetType string

const (
	TargetTypeFile     TargetType = "file"
	TargetTypeDatabase TargetType = "database"
)

// Valid reports whether t is a known target type.
func (t TargetType) Valid() bool {
	return oneOf(t, TargetTypeFile, TargetTypeDatabase)
}

// SecretSource identifies a secret management service.
type SecretSource string

const (
	SecretSourceAWSSecretsManager SecretSource = "aws_sm"
	SecretSourceAWSParameterStore SecretSource = "aws_ssm"
	SecretSourceGCPSecretManager  SecretSource = "gcp_sm"
	SecretSourceAzureKeyVault     SecretSource = "azure_kv"
	SecretSourceHashicorpVault    SecretSource = "hashicorp_vault"
)

// Valid reports whether s is a known secret source.
func (s SecretSource) Valid() bool {
	return oneOf(s,
		SecretSourceAWSSecretsManager,
		SecretSourceAWSParameterStore,
		SecretSourceGCPSecretManager,
		SecretSourceAzureKeyVault,
		SecretSourceHashicorpVault,
	)
}

// LoadMode is how a target writes a dataset.
type LoadMode string

const (
	LoadModeAppend    LoadMode = "append"
	LoadModeOverwrite LoadMode = "overwrite"
	LoadModeUpsert    LoadMode = "upsert"
)

// Valid reports whether m is a known load mode.
func (m LoadMode) Valid() bool {
	return oneOf(m, LoadModeAppend, LoadModeOverwrite, LoadModeUpsert)
}

// MissingAction is what happens when a dataset is absent.
type MissingAction string

const (
	MissingActionError   MissingAction = "error"
	MissingActionWarning MissingAction = "warning"
	MissingActionPoll    MissingAction = "poll"
)

// Valid reports whether a is a known action.
func (a MissingAction) Valid() bool {
	return oneOf(a, MissingActionError, MissingActionWarning, MissingActionPoll)
}

// ExceptionType is the severity of a failed validation.
type ExceptionType string

const (
	ExceptionTypeIgnore  ExceptionType = "ignore"
	ExceptionTypeWarning ExceptionType = "warning"
	ExceptionTypeError   ExceptionType = "error"
)

// Valid reports whether e is a known severity.
func (e ExceptionType) Valid() bool {
	return oneOf(e, ExceptionTypeIgnore, ExceptionTypeWarning, ExceptionTypeError)
}

// FileType is the on-disk format of a file dataset.
type FileType string

const (
	FileTypeCSV        FileType = "csv"
	FileTypeJSON       FileType = "json"
	FileTypeParquet    FileType = "parquet"
	FileTypeExcel      FileType = "excel"
	FileTypeXML        FileType = "xml"
	FileTypeFixedWidth FileType = "fixed_width"
	FileTypeAvro       FileType = "avro"
	FileTypeORC        FileType = "orc"
	FileTypeCustom     FileType = "custom"
)

// Valid reports whether f is a known file type.
func (f FileType) Valid() bool {
	return oneOf(f,
		FileTypeCSV, FileTypeJSON, FileTypeParquet, FileTypeExcel, FileTypeXML,
		FileTypeFixedWidth, FileTypeAvro, FileTypeORC, FileTypeCustom,
	)
}

// Engine is the processing engine named by a file dataset.
type Engine string

const (
	EngineDuckDB Engine = "duckdb"
	EngineSpark  Engine = "spark"
	EnginePandas Engine = "pandas"
)

// Valid reports whether e is a known engine.
func (e Engine) Valid() bool {
	return oneOf(e, EngineDuckDB, EngineSpark, EnginePandas)
}

func oneOf[T ~string](v T, allowed ...T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
