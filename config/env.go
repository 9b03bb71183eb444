package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvRPCURL = "FLASHARB_RPC_URL"
	EnvOwner  = "FLASHARB_OWNER"
	EnvVault  = "FLASHARB_VAULT"
)

// LoadEnv loads environment variables from .env files. A missing default
// .env is not an error.
func LoadEnv(filenames ...string) error {
	err := godotenv.Load(filenames...)
	if len(filenames) == 0 && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv overrides the RPC endpoint, owner and vault from the environment
func (c *Config) ApplyEnv() {
	c.Network.RPCEndpoint = GetEnvWithDefault(EnvRPCURL, c.Network.RPCEndpoint)
	c.Executor.Owner = GetEnvWithDefault(EnvOwner, c.Executor.Owner)
	c.Vault.Address = GetEnvWithDefault(EnvVault, c.Vault.Address)
}
