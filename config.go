package mongoneo

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const localMongoURI = "mongodb://127.0.0.1:27017"

// Config holds the settings for one named connection.
type Config struct {
	URI      string
	Database string
	AppName  string
	Timeout  time.Duration
}

// LoadConfig reads connection settings from MONGONEO_* environment variables,
// loading a .env file first when one is present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("MONGONEO_URI", localMongoURI)
	v.SetDefault("MONGONEO_DATABASE", "mongoneo")
	v.SetDefault("MONGONEO_TIMEOUT", 10)

	cfg := &Config{
		URI:      v.GetString("MONGONEO_URI"),
		Database: v.GetString("MONGONEO_DATABASE"),
		AppName:  v.GetString("MONGONEO_APP_NAME"),
		Timeout:  time.Duration(v.GetInt("MONGONEO_TIMEOUT")) * time.Second,
	}
	return cfg, nil
}
