package configuration

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/bartossh/Timesheet/fileoperations"
	"github.com/bartossh/Timesheet/natsclient"
	"github.com/bartossh/Timesheet/node"
	"github.com/bartossh/Timesheet/nodeserver"
	"github.com/bartossh/Timesheet/notaryclient"
	"github.com/bartossh/Timesheet/notaryserver"
	"github.com/bartossh/Timesheet/oracle"
	"github.com/bartossh/Timesheet/repomongo"
	"github.com/bartossh/Timesheet/repository"
	"github.com/bartossh/Timesheet/zincadapter"
)

// Environment variables overriding secrets read from the file.
const (
	EnvDBConn       = "TIMESHEET_DB_CONN"
	EnvMongoURI     = "TIMESHEET_MONGO_URI"
	EnvWalletPasswd = "TIMESHEET_WALLET_PASSWD"
	EnvNatsToken    = "TIMESHEET_NATS_TOKEN"
)

// Vault kinds.
const (
	VaultMemory   = "memory"
	VaultPostgres = "postgres"
	VaultMongo    = "mongo"
)

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Node            node.Config           `yaml:"node"`
	NodeServer      nodeserver.Config     `yaml:"node_server"`
	NotaryServer    notaryserver.Config   `yaml:"notary_server"`
	NotaryClient    notaryclient.Config   `yaml:"notary_client"`
	Oracle          oracle.Config         `yaml:"oracle"`
	OracleAddress   string                `yaml:"oracle_address"` // Wallet address of the rate oracle the node queries.
	Nats            natsclient.Config     `yaml:"nats"`
	FileOperator    fileoperations.Config `yaml:"file_operator"`
	Database        repository.DBConfig   `yaml:"database"`
	Mongo           repomongo.Config      `yaml:"mongo"`
	VaultKind       string                `yaml:"vault_kind"`       // One of memory, postgres or mongo.
	CheckpointsPath string                `yaml:"checkpoints_path"` // Badger volume of the run checkpoints, empty keeps them in memory.
	TelemetryPort   int                   `yaml:"telemetry_port"`   // Prometheus metrics port, 0 uses the default.
	MongoLogger     bool                  `yaml:"mongo_logger"`     // Indicates if logs are written to the mongo database as well.
	ZincLogger      zincadapter.Config    `yaml:"zinc_logger"`
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
func Read(path string) (Configuration, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	var main Configuration
	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}
	if main.VaultKind == "" {
		main.VaultKind = VaultMemory
	}

	return main, err
}

// ReadWithEnv reads the configuration from the file, loads given env files
// and overrides secrets with the environment variables that are set.
// Variables already present in the environment take precedence over env files.
func ReadWithEnv(path string, envFiles ...string) (Configuration, error) {
	main, err := Read(path)
	if err != nil {
		return main, err
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Configuration{}, fmt.Errorf("env files %q: %w", envFiles, err)
		}
	}

	override(&main.Database.ConnStr, EnvDBConn)
	override(&main.Mongo.ConnStr, EnvMongoURI)
	override(&main.FileOperator.WalletPasswd, EnvWalletPasswd)
	override(&main.Nats.Token, EnvNatsToken)

	return main, nil
}

func override(v *string, env string) {
	if s, ok := os.LookupEnv(env); ok && s != "" {
		*v = s
	}
}
