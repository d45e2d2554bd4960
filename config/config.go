package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config representa a configuração global do sistema
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	IMAP    IMAPConfig    `mapstructure:"imap"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig representa a configuração do servidor de correio principal
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	Port          int    `mapstructure:"port"`
	Domain        string `mapstructure:"domain"`
	MaxFrameBytes int    `mapstructure:"max_frame_bytes"`
}

// StorageConfig representa a configuração do armazenamento das caixas de correio
type StorageConfig struct {
	Type     string `mapstructure:"type"` // "filesystem", "sqlite" ou "postgres"
	DataDir  string `mapstructure:"data_dir"`
	LostDir  string `mapstructure:"lost_dir"`
	Path     string `mapstructure:"path"` // Para SQLite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// SMTPConfig representa a configuração da entrada SMTP
type SMTPConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Address         string `mapstructure:"address"`
	Port            int    `mapstructure:"port"`
	MaxMessageBytes int64  `mapstructure:"max_message_bytes"`
}

// IMAPConfig representa a configuração do acesso IMAP somente leitura
type IMAPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// MetricsConfig representa a configuração do endpoint HTTP de métricas
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// LogConfig representa a configuração de log
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Addr retorna o endereço de escuta do servidor principal
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Addr retorna o endereço de escuta SMTP
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// Addr retorna o endereço de escuta IMAP
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// SetDefaults registra os valores padrão de todas as chaves
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 1400)
	v.SetDefault("server.domain", "glo2000.ca")
	v.SetDefault("server.max_frame_bytes", 1<<20)

	v.SetDefault("storage.type", "filesystem")
	v.SetDefault("storage.data_dir", "server_data")
	v.SetDefault("storage.lost_dir", "@lost")
	v.SetDefault("storage.path", "server_data/glomail.db")
	v.SetDefault("storage.host", "localhost")
	v.SetDefault("storage.port", 5432)
	v.SetDefault("storage.user", "glomail")
	v.SetDefault("storage.password", "")
	v.SetDefault("storage.dbname", "glomail")
	v.SetDefault("storage.sslmode", "disable")

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.address", "127.0.0.1")
	v.SetDefault("smtp.port", 2525)
	v.SetDefault("smtp.max_message_bytes", 1024*1024)

	v.SetDefault("imap.enabled", false)
	v.SetDefault("imap.address", "127.0.0.1")
	v.SetDefault("imap.port", 1143)

	v.SetDefault("metrics.address", "")

	v.SetDefault("log.level", "info")
}

// LoadConfig carrega configurações do arquivo config.yaml.
// Um arquivo inexistente não é erro: os valores padrão e as variáveis
// de ambiente GLOMAIL_* continuam valendo.
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		// Usar diretório atual se nenhum caminho for fornecido
		dir, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("glomail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("erro ao ler arquivo de configuração: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("erro ao processar configuração: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate verifica a coerência da configuração
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Domain) == "" {
		return fmt.Errorf("configuração inválida: server.domain vazio")
	}

	for name, port := range map[string]int{
		"server.port": c.Server.Port,
		"smtp.port":   c.SMTP.Port,
		"imap.port":   c.IMAP.Port,
	} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("configuração inválida: %s fora do intervalo (%d)", name, port)
		}
	}

	switch c.Storage.Type {
	case "filesystem", "sqlite", "postgres":
	default:
		return fmt.Errorf("tipo de armazenamento não suportado: %s", c.Storage.Type)
	}

	// O diretório reservado não pode colidir com uma conta
	lost := c.Storage.LostDir
	if lost == "" || usernamePattern.MatchString(lost) || strings.ContainsAny(lost, `/\`) {
		return fmt.Errorf("configuração inválida: storage.lost_dir %q pode colidir com um nome de usuário", lost)
	}

	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("configuração inválida: server.max_frame_bytes deve ser positivo")
	}

	return nil
}
