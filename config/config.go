package config

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	MinIOBucket string        `yaml:"minio_bucket"`
	App         App           `yaml:"app"`
	DB          *sql.DB       `yaml:"db"`
	Queue       *RabbitMQ     `yaml:"rabbitmq"`
	Storage     *minio.Client `yaml:"storage"`
	Server      Server        `yaml:"server"`
	Upload      Upload        `yaml:"upload"`
	Broker      Broker        `yaml:"broker"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
}

// Upload holds chunked-upload tunables. The grace window keeps completed
// upload state visible to late status polls; the reap settings bound how
// long abandoned staging directories survive.
type Upload struct {
	TempDir      string        `yaml:"temp_dir"`
	MaxChunkSize int64         `yaml:"max_chunk_size"`
	Grace        time.Duration `yaml:"grace"`
	ReapInterval time.Duration `yaml:"reap_interval"`
	ReapMaxAge   time.Duration `yaml:"reap_max_age"`
}

// Broker holds request/reply retry tunables. The defaults match the
// worker fleet's reply timeout budget; they are configuration, not
// protocol.
type Broker struct {
	SendRetries  int           `yaml:"send_retries"`
	RetryStep    time.Duration `yaml:"retry_step"`
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("upload.temp_dir", "temp")
	viper.SetDefault("upload.max_chunk_size", 20*1024*1024)
	viper.SetDefault("upload.grace", "5m")
	viper.SetDefault("upload.reap_interval", "1h")
	viper.SetDefault("upload.reap_max_age", "24h")
	viper.SetDefault("broker.send_retries", 2)
	viper.SetDefault("broker.retry_step", "1s")
	viper.SetDefault("broker.reply_timeout", "30s")

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", viper.GetString("postgresql_host"))
	if err != nil {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         viper.GetString("rabbitmq_host"),
		Port:         viper.GetInt("rabbitmq_port"),
		User:         viper.GetString("rabbitmq_user"),
		Pass:         viper.GetString("rabbitmq_pass"),
		ExchangeName: viper.GetString("rabbitmq_exchange"),
		Kind:         viper.GetString("rabbitmq_kind"),
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	return &Config{
		MinIOBucket: viper.GetString("minio.bucket"),
		App: App{
			Environment: viper.GetString("app.environment"),
			Host:        viper.GetString("app.host"),
			Protocol:    viper.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
			Workers:  viper.GetInt("server.workers"),
		},
		Upload: Upload{
			TempDir:      viper.GetString("upload.temp_dir"),
			MaxChunkSize: viper.GetInt64("upload.max_chunk_size"),
			Grace:        viper.GetDuration("upload.grace"),
			ReapInterval: viper.GetDuration("upload.reap_interval"),
			ReapMaxAge:   viper.GetDuration("upload.reap_max_age"),
		},
		Broker: Broker{
			SendRetries:  viper.GetInt("broker.send_retries"),
			RetryStep:    viper.GetDuration("broker.retry_step"),
			ReplyTimeout: viper.GetDuration("broker.reply_timeout"),
		},
		DB:      db,
		Queue:   rabbitmq,
		Storage: minioClient,
	}, nil
}
