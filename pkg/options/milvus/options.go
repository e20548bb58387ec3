// Package milvusopts provides options for Milvus client configuration.
package milvusopts

import (
	"fmt"
	"time"

	"github.com/kart-io/finrag/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options contains Milvus client configuration.
type Options struct {
	// Address is the Milvus server address (host:port).
	Address string `json:"address" mapstructure:"address"`

	// Database is the database name to use.
	Database string `json:"database" mapstructure:"database"`

	// Username for authentication.
	Username string `json:"username" mapstructure:"username"`

	// Password for authentication.
	Password string `json:"-" mapstructure:"password"`

	// Timeout for connection and operations.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// ConnectRetries 连接建立的最大重试次数。
	ConnectRetries int `json:"connect-retries" mapstructure:"connect-retries"`

	// ConnectRetryDelay 连接重试之间的固定延迟。
	ConnectRetryDelay time.Duration `json:"connect-retry-delay" mapstructure:"connect-retry-delay"`

	// NList IVF_FLAT 索引的聚类数量。
	NList int `json:"nlist" mapstructure:"nlist"`

	// NProbe 搜索时探测的聚类数量。
	NProbe int `json:"nprobe" mapstructure:"nprobe"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:           "localhost:19530",
		Database:          "default",
		Timeout:           30 * time.Second,
		ConnectRetries:    5,
		ConnectRetryDelay: 3 * time.Second,
		NList:             1024,
		NProbe:            10,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Address, options.Join(prefixes...)+"milvus.address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, options.Join(prefixes...)+"milvus.database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, options.Join(prefixes...)+"milvus.username", o.Username, "Milvus username for authentication.")
	fs.StringVar(&o.Password, options.Join(prefixes...)+"milvus.password", o.Password, "Milvus password for authentication.")
	fs.DurationVar(&o.Timeout, options.Join(prefixes...)+"milvus.timeout", o.Timeout, "Connection and operation timeout.")
	fs.IntVar(&o.ConnectRetries, options.Join(prefixes...)+"milvus.connect-retries", o.ConnectRetries, "Maximum connection attempts before giving up.")
	fs.DurationVar(&o.ConnectRetryDelay, options.Join(prefixes...)+"milvus.connect-retry-delay", o.ConnectRetryDelay, "Fixed delay between connection attempts.")
	fs.IntVar(&o.NList, options.Join(prefixes...)+"milvus.nlist", o.NList, "IVF_FLAT index cluster count.")
	fs.IntVar(&o.NProbe, options.Join(prefixes...)+"milvus.nprobe", o.NProbe, "Number of clusters probed at search time.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus timeout must be positive"))
	}
	if o.ConnectRetries <= 0 {
		errs = append(errs, fmt.Errorf("milvus connect-retries must be positive"))
	}
	if o.NList <= 0 || o.NProbe <= 0 {
		errs = append(errs, fmt.Errorf("milvus nlist and nprobe must be positive"))
	}
	return errs
}
