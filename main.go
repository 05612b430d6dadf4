package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/awgpanel/awg-manager/awg"
	"github.com/awgpanel/awg-manager/emailer"
	"github.com/awgpanel/awg-manager/handler"
	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/router"
	"github.com/awgpanel/awg-manager/service"
	"github.com/awgpanel/awg-manager/shell"
	"github.com/awgpanel/awg-manager/store/jsondb"
	"github.com/awgpanel/awg-manager/task"
	"github.com/awgpanel/awg-manager/telegram"
	"github.com/awgpanel/awg-manager/util"
)

var (
	// command-line banner information
	appVersion = "development"
	gitCommit  = "N/A"
	gitRef     = "N/A"
	buildTime  = time.Now().UTC().Format("01-02-2006 15:04:05")
	// configuration variables
	flagBindAddress      string = util.DefaultBindAddress
	flagAPIKey           string
	flagAPIKeyHash       string
	flagServerID         string
	flagServerName       string
	flagServerRegion     string
	flagServerWeight     int
	flagServerMaxPeers   int
	flagServerPublicHost string
	flagProtocols        string
	flagPrimaryDNS       string = util.DefaultPrimaryDNS
	flagSecondaryDNS     string = util.DefaultSecondaryDNS
	flagCleanupSchedule  string = util.DefaultCleanupSchedule
	flagDBPath           string = util.DefaultDBPath
	flagBackendsConfig   string
	flagBackupRetention  int    = util.DefaultBackupRetention
	flagSendgridApiKey   string
	flagEmailFrom        string
	flagEmailFromName    string = util.DefaultEmailFromName
	flagSmtpHostname     string
	flagSmtpPort         int    = util.DefaultSmtpPort
	flagSmtpUsername     string
	flagSmtpPassword     string
	flagSmtpNoTLSCheck   bool
	flagSmtpEncryption   string = "STARTTLS"
	flagSmtpAuthType     string = "NONE"
	flagTelegramToken    string
	flagTelegramFlood    int    = util.DefaultTelegramFlood
	flagGenAPIKey        bool
)

func init() {
	// command-line flags and env variables
	flag.StringVar(&flagBindAddress, "bind-address", util.LookupEnvOrString(util.BindAddressEnvVar, flagBindAddress), "Address:Port to which the app will be bound.")
	flag.StringVar(&flagAPIKey, "api-key", util.LookupEnvOrString(util.APIKeyEnvVar, flagAPIKey), "API key required in the X-API-Key header.")
	flag.StringVar(&flagAPIKeyHash, "api-key-hash", util.LookupEnvOrString(util.APIKeyHashEnvVar, flagAPIKeyHash), "Base64 bcrypt hash of the API key. Takes precedence over api-key.")
	flag.StringVar(&flagServerID, "server-id", util.LookupEnvOrString(util.ServerIDEnvVar, flagServerID), "Identifier of this server.")
	flag.StringVar(&flagServerName, "server-name", util.LookupEnvOrString(util.ServerNameEnvVar, flagServerName), "Name shown in client apps. Supports {protocol} and {username}.")
	flag.StringVar(&flagServerRegion, "server-region", util.LookupEnvOrString(util.ServerRegionEnvVar, flagServerRegion), "Region of this server.")
	flag.IntVar(&flagServerWeight, "server-weight", util.LookupEnvOrInt(util.ServerWeightEnvVar, flagServerWeight), "Balancing weight of this server.")
	flag.IntVar(&flagServerMaxPeers, "server-max-peers", util.LookupEnvOrInt(util.ServerMaxPeersEnvVar, flagServerMaxPeers), "Peer ceiling per protocol. 0 means unlimited.")
	flag.StringVar(&flagServerPublicHost, "server-public-host", util.LookupEnvOrString(util.ServerPublicHostEnvVar, flagServerPublicHost), "Endpoint host written in client profiles. Detected when empty.")
	flag.StringVar(&flagProtocols, "protocols", util.LookupEnvOrString(util.ProtocolsEnabledEnvVar, flagProtocols), "Comma separated enabled protocols. Detected from running containers when empty.")
	flag.StringVar(&flagPrimaryDNS, "dns-primary", util.LookupEnvOrString(util.PrimaryDNSEnvVar, flagPrimaryDNS), "Primary DNS server of client profiles.")
	flag.StringVar(&flagSecondaryDNS, "dns-secondary", util.LookupEnvOrString(util.SecondaryDNSEnvVar, flagSecondaryDNS), "Secondary DNS server of client profiles.")
	flag.StringVar(&flagCleanupSchedule, "cleanup-schedule", util.LookupEnvOrString(util.CleanupScheduleEnvVar, flagCleanupSchedule), "Cron schedule of the expired clients cleanup.")
	flag.StringVar(&flagDBPath, "db-path", util.LookupEnvOrString(util.DBPathEnvVar, flagDBPath), "Directory of the backup archive.")
	flag.StringVar(&flagBackendsConfig, "backends-config", util.LookupEnvOrString(util.BackendsConfigEnvVar, flagBackendsConfig), "YAML file overriding backend containers and paths.")
	flag.IntVar(&flagBackupRetention, "backup-retention", util.LookupEnvOrInt(util.BackupRetentionEnvVar, flagBackupRetention), "Number of archived backups to keep. 0 keeps all.")
	flag.StringVar(&flagSendgridApiKey, "sendgrid-api-key", util.LookupEnvOrString(util.SendgridApiKeyEnvVar, flagSendgridApiKey), "Your sendgrid api key.")
	flag.StringVar(&flagEmailFrom, "email-from", util.LookupEnvOrString(util.EmailFromEnvVar, flagEmailFrom), "'From' email address.")
	flag.StringVar(&flagEmailFromName, "email-from-name", util.LookupEnvOrString(util.EmailFromNameEnvVar, flagEmailFromName), "'From' email name.")
	flag.StringVar(&flagSmtpHostname, "smtp-hostname", util.LookupEnvOrString(util.SmtpHostnameEnvVar, flagSmtpHostname), "SMTP Hostname")
	flag.IntVar(&flagSmtpPort, "smtp-port", util.LookupEnvOrInt(util.SmtpPortEnvVar, flagSmtpPort), "SMTP Port")
	flag.StringVar(&flagSmtpUsername, "smtp-username", util.LookupEnvOrString(util.SmtpUsernameEnvVar, flagSmtpUsername), "SMTP Username")
	flag.StringVar(&flagSmtpPassword, "smtp-password", util.LookupEnvOrString(util.SmtpPasswordEnvVar, flagSmtpPassword), "SMTP Password")
	flag.BoolVar(&flagSmtpNoTLSCheck, "smtp-no-tls-check", util.LookupEnvOrBool(util.SmtpNoTLSCheckEnvVar, flagSmtpNoTLSCheck), "Disable TLS verification for SMTP. This is potentially dangerous.")
	flag.StringVar(&flagSmtpEncryption, "smtp-encryption", util.LookupEnvOrString(util.SmtpEncryptionEnvVar, flagSmtpEncryption), "SMTP Encryption : NONE, SSL, SSLTLS, TLS or STARTTLS (by default)")
	flag.StringVar(&flagSmtpAuthType, "smtp-auth-type", util.LookupEnvOrString(util.SmtpAuthTypeEnvVar, flagSmtpAuthType), "SMTP Auth Type : PLAIN, LOGIN or NONE.")
	flag.StringVar(&flagTelegramToken, "telegram-token", util.LookupEnvOrString(util.TelegramTokenEnvVar, flagTelegramToken), "Telegram bot token for distributing share links to clients.")
	flag.IntVar(&flagTelegramFlood, "telegram-flood-wait", util.LookupEnvOrInt(util.TelegramFloodWaitEnvVar, flagTelegramFlood), "Minutes between two links sent to the same Telegram user.")
	flag.BoolVar(&flagGenAPIKey, "gen-api-key", false, "Print a new API key and its hash, then exit.")
	flag.Parse()

	// update runtime config
	util.BindAddress = flagBindAddress
	util.APIKey = flagAPIKey
	util.APIKeyHash = flagAPIKeyHash
	util.ServerID = flagServerID
	util.ServerName = flagServerName
	util.ServerRegion = flagServerRegion
	util.ServerWeight = flagServerWeight
	util.ServerMaxPeers = flagServerMaxPeers
	util.ServerPublicHost = flagServerPublicHost
	util.ProtocolsEnabled = util.SplitCSV(flagProtocols)
	util.PrimaryDNS = flagPrimaryDNS
	util.SecondaryDNS = flagSecondaryDNS
	util.CleanupSchedule = flagCleanupSchedule
	util.DBPath = flagDBPath
	util.BackendsConfig = flagBackendsConfig
	util.BackupRetention = flagBackupRetention
	util.SendgridApiKey = flagSendgridApiKey
	util.EmailFrom = flagEmailFrom
	util.EmailFromName = flagEmailFromName
	util.SmtpHostname = flagSmtpHostname
	util.SmtpPort = flagSmtpPort
	util.SmtpUsername = flagSmtpUsername
	util.SmtpPassword = flagSmtpPassword
	util.SmtpNoTLSCheck = flagSmtpNoTLSCheck
	util.SmtpEncryption = flagSmtpEncryption
	util.SmtpAuthType = flagSmtpAuthType
	util.TelegramToken = flagTelegramToken
	util.TelegramFloodWait = flagTelegramFlood

	lvl, _ := util.ParseLogLevel(util.LookupEnvOrString(util.LogLevel, "INFO"))
	log.SetLevel(lvl)

	if flagGenAPIKey {
		return
	}

	// print only if log level is INFO or lower
	if lvl <= log.INFO {
		// print app information
		fmt.Println("AWG Manager")
		fmt.Println("App Version\t:", appVersion)
		fmt.Println("Git Commit\t:", gitCommit)
		fmt.Println("Git Ref\t\t:", gitRef)
		fmt.Println("Build Time\t:", buildTime)
		fmt.Println("Bind address\t:", util.BindAddress)
		fmt.Println("Authentication\t:", util.APIKey != "" || util.APIKeyHash != "")
		fmt.Println("Server ID\t:", util.ServerID)
		fmt.Println("Protocols\t:", util.ProtocolsEnabled)
		fmt.Println("Max peers\t:", util.ServerMaxPeers)
		fmt.Println("Cleanup\t\t:", util.CleanupSchedule)
		fmt.Println("Email from\t:", util.EmailFrom)
		fmt.Println("Email from name\t:", util.EmailFromName)
	}
}

func main() {
	if flagGenAPIKey {
		key, hash, err := util.GenerateAPIKey()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("API_KEY=%s\nAPI_KEY_HASH=%s\n", key, hash)
		return
	}

	lvl, err := util.ParseLogLevel(util.LookupEnvOrString(util.LogLevel, "INFO"))
	if err != nil {
		log.Fatal(err)
	}

	protocols, err := util.ParseProtocols(util.ProtocolsEnabled)
	if err != nil {
		log.Fatal("Cannot parse enabled protocols: ", err)
	}
	backends, err := awg.LoadBackends(util.BackendsConfig)
	if err != nil {
		log.Fatal(err)
	}

	settings := awg.Settings{
		MaxPeers:     util.ServerMaxPeers,
		PublicHost:   util.ResolvePublicHost(util.ServerPublicHost),
		ServerName:   util.ServerName,
		PrimaryDNS:   util.PrimaryDNS,
		SecondaryDNS: util.SecondaryDNS,
	}
	var services []service.ProtocolService
	var containers []string
	for _, p := range model.Protocols {
		b := backends[p]
		conn := awg.NewConnection(b, shell.NewDockerExec(b.Container))
		services = append(services, awg.NewService(b, conn, settings))
		containers = append(containers, b.Container)
	}
	clients := service.NewClients(services, protocols, service.ContainerDetector(shell.Local{}, backends))

	db, err := jsondb.New(util.DBPath)
	if err != nil {
		log.Fatal("Cannot open the backup archive: ", err)
	}
	if err := db.Init(); err != nil {
		log.Fatal("Cannot init the backup archive: ", err)
	}
	server := service.NewServer(clients, db, service.ServerInfo{
		ID:       util.ServerID,
		Region:   util.ServerRegion,
		Weight:   util.ServerWeight,
		MaxPeers: util.ServerMaxPeers,
	}, util.BackupRetention, service.NewHostMonitor(shell.Local{}, containers))

	var sendmail emailer.Emailer
	from := emailer.Sender{Name: util.EmailFromName, Address: util.EmailFrom}
	if util.SendgridApiKey != "" {
		sendmail = emailer.NewSendgridApiMail(util.SendgridApiKey, from)
	} else if util.SmtpHostname != "" {
		sendmail = emailer.NewSmtpMail(emailer.SmtpConfig{
			Hostname:   util.SmtpHostname,
			Port:       util.SmtpPort,
			Username:   util.SmtpUsername,
			Password:   util.SmtpPassword,
			AuthType:   util.SmtpAuthType,
			Encryption: util.SmtpEncryption,
			NoTLSCheck: util.SmtpNoTLSCheck,
		}, from)
	}

	var linkSender handler.LinkSender
	bot, err := telegram.New(util.TelegramToken, time.Duration(util.TelegramFloodWait)*time.Minute)
	if err != nil {
		log.Warnf("[Telegram] %v", err)
	} else if bot != nil {
		linkSender = bot
	}

	scheduler, err := task.NewScheduler(util.CleanupSchedule, clients)
	if err != nil {
		log.Fatal(err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Infof("Next expired clients cleanup at %s", scheduler.Next().Format(time.RFC3339))

	// register routes
	app := router.New(lvl)

	api := app.Group("/api", handler.APIKey)
	api.GET("/clients", handler.GetClients(clients))
	api.POST("/clients", handler.NewClient(clients, sendmail, linkSender), handler.ContentTypeJson)
	api.PATCH("/clients", handler.UpdateClient(clients), handler.ContentTypeJson)
	api.DELETE("/clients", handler.RemoveClient(clients), handler.ContentTypeJson)
	api.GET("/server", handler.ServerStatus(server))
	api.GET("/server/backup", handler.ExportBackup(server))
	api.POST("/server/backup", handler.ImportBackup(server), handler.ContentTypeJson)
	api.GET("/server/backups", handler.GetBackups(server))
	api.POST("/server/backups", handler.ArchiveBackup(server))
	api.GET("/server/load", handler.ServerLoad(server))
	api.POST("/server/reboot", handler.RebootServer(server))
	api.POST("/server/backups/:id/restore", handler.RestoreBackup(server))

	app.GET("/metrics", echo.WrapHandler(promhttp.Handler()), handler.APIKey)

	go func() {
		if err := app.Start(util.BindAddress); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		log.Error("Cannot shutdown the server: ", err)
	}
}
