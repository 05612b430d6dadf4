package util

// Runtime config
var (
	BindAddress      string
	APIKey           string
	APIKeyHash       string
	ServerID         string
	ServerName       string
	ServerRegion     string
	ServerWeight     int
	ServerMaxPeers   int
	ServerPublicHost string
	ProtocolsEnabled []string
	PrimaryDNS       string
	SecondaryDNS     string
	CleanupSchedule  string
	DBPath           string
	BackendsConfig   string
	BackupRetention  int

	TelegramToken     string
	TelegramFloodWait int

	SendgridApiKey string
	EmailFrom      string
	EmailFromName  string
	SmtpHostname   string
	SmtpPort       int
	SmtpUsername   string
	SmtpPassword   string
	SmtpNoTLSCheck bool
	SmtpEncryption string
	SmtpAuthType   string
)

const (
	DefaultBindAddress     = "0.0.0.0:4001"
	DefaultPrimaryDNS      = "1.1.1.1"
	DefaultSecondaryDNS    = "1.0.0.1"
	DefaultCleanupSchedule = "0 3 * * *"
	DefaultDBPath          = "./db"
	DefaultBackupRetention = 30
	DefaultTelegramFlood   = 60
	DefaultEmailFromName   = "AWG Manager"
	DefaultSmtpPort        = 25
)

const (
	LogLevel                = "LOG_LEVEL"
	BindAddressEnvVar       = "BIND_ADDRESS"
	APIKeyEnvVar            = "API_KEY"
	APIKeyHashEnvVar        = "API_KEY_HASH"
	ServerIDEnvVar          = "SERVER_ID"
	ServerNameEnvVar        = "SERVER_NAME"
	ServerRegionEnvVar      = "SERVER_REGION"
	ServerWeightEnvVar      = "SERVER_WEIGHT"
	ServerMaxPeersEnvVar    = "SERVER_MAX_PEERS"
	ServerPublicHostEnvVar  = "SERVER_PUBLIC_HOST"
	ProtocolsEnabledEnvVar  = "PROTOCOLS_ENABLED"
	PrimaryDNSEnvVar        = "DNS_PRIMARY"
	SecondaryDNSEnvVar      = "DNS_SECONDARY"
	CleanupScheduleEnvVar   = "CLEANUP_SCHEDULE"
	DBPathEnvVar            = "DB_PATH"
	BackendsConfigEnvVar    = "BACKENDS_CONFIG"
	BackupRetentionEnvVar   = "BACKUP_RETENTION"
	SendgridApiKeyEnvVar    = "SENDGRID_API_KEY"
	EmailFromEnvVar         = "EMAIL_FROM_ADDRESS"
	EmailFromNameEnvVar     = "EMAIL_FROM_NAME"
	SmtpHostnameEnvVar      = "SMTP_HOSTNAME"
	SmtpPortEnvVar          = "SMTP_PORT"
	SmtpUsernameEnvVar      = "SMTP_USERNAME"
	SmtpPasswordEnvVar      = "SMTP_PASSWORD"
	SmtpNoTLSCheckEnvVar    = "SMTP_NO_TLS_CHECK"
	SmtpEncryptionEnvVar    = "SMTP_ENCRYPTION"
	SmtpAuthTypeEnvVar      = "SMTP_AUTH_TYPE"
	TelegramTokenEnvVar     = "TELEGRAM_TOKEN"
	TelegramFloodWaitEnvVar = "TELEGRAM_FLOOD_WAIT"
)
