package config

import "github.com/gear6io/replicant/pkg/errors"

// Config-specific error codes
var (
	ErrConfigFileReadFailed    = errors.MustNewCode("config.file_read_failed")
	ErrConfigFileParseFailed   = errors.MustNewCode("config.file_parse_failed")
	ErrConfigValidationFailed  = errors.MustNewCode("config.validation_failed")
	ErrConfigFileMarshalFailed = errors.MustNewCode("config.file_marshal_failed")
	ErrConfigFileWriteFailed   = errors.MustNewCode("config.file_write_failed")
	ErrInvalidPort             = errors.MustNewCode("config.invalid_port")
	ErrInvalidRate             = errors.MustNewCode("config.invalid_rate")
	ErrInvalidNetmode          = errors.MustNewCode("config.invalid_netmode")
	ErrStorePathRequired       = errors.MustNewCode("config.store_path_required")
	ErrInvalidGameSettings     = errors.MustNewCode("config.invalid_game_settings")
	ErrServerAddressRequired   = errors.MustNewCode("config.server_address_required")

	// Logging-specific error codes
	ErrLogDirectoryCreationFailed = errors.MustNewCode("config.log_directory_creation_failed")
	ErrLogFileOpenFailed          = errors.MustNewCode("config.log_file_open_failed")
	ErrLogRotationFailed          = errors.MustNewCode("config.log_rotation_failed")
	ErrLogBackupReadFailed        = errors.MustNewCode("config.log_backup_read_failed")
	ErrLogBackupRemoveFailed      = errors.MustNewCode("config.log_backup_remove_failed")
	ErrLogFileWriterSetupFailed   = errors.MustNewCode("config.log_file_writer_setup_failed")
)
