package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables holding service credentials.
const (
	EnvListenNotesKey = "LISTEN_NOTES_API_KEY"
	EnvOpenAIKey      = "OPENAI_API_KEY"
	EnvElevenLabsKey  = "ELEVENLABS_API_KEY"
	EnvMinioAccessKey = "MINIO_ACCESS_KEY"
	EnvMinioSecretKey = "MINIO_SECRET_KEY"
)

// Credentials holds API secrets. They are only ever read from the
// environment, never from the YAML file.
type Credentials struct {
	ListenNotesKey string
	OpenAIKey      string
	ElevenLabsKey  string
	MinioAccessKey string
	MinioSecretKey string
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// into the process environment. Variables already set win. Missing files
// are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// LoadCredentials reads credentials through getenv (os.Getenv when nil).
func LoadCredentials(getenv func(string) string) Credentials {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Credentials{
		ListenNotesKey: getenv(EnvListenNotesKey),
		OpenAIKey:      getenv(EnvOpenAIKey),
		ElevenLabsKey:  getenv(EnvElevenLabsKey),
		MinioAccessKey: getenv(EnvMinioAccessKey),
		MinioSecretKey: getenv(EnvMinioSecretKey),
	}
}
