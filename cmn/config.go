/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package cmn

import (
	"net"
	"os"
	"regexp"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const ConfigFileDefault = "/etc/ukai/config"

var commentRe = regexp.MustCompile(`(?m)^\s*#.*$`)

type (
	// Config holds the flat key-value configuration loaded once at
	// startup. A Config is read-only after Load; every component that
	// needs a knob receives the Config (or the knob) explicitly.
	Config struct {
		ID              string        `json:"id"`
		DataRoot        string        `json:"data_root"`
		MetadataServers []string      `json:"metadata_servers"`
		MetadataBackend string        `json:"metadata_backend"`
		CoreServer      string        `json:"core_server"`
		CorePort        int           `json:"core_port"`
		BlocknameFormat string        `json:"blockname_format"`
		CreateDefault   CreateDefault `json:"create_default"`
		IfaddrCache     *bool         `json:"ifaddr_cache"`
		FuseOptions     FuseOptions   `json:"fuse_options"`
		RPCTimeoutSec   int           `json:"rpc_timeout"`
	}
	CreateDefault struct {
		BlockSize int64 `json:"block_size"`
	}
	FuseOptions struct {
		NoThreads bool `json:"nothreads"`
	}
)

// LoadConfig reads a JSON configuration file, strips '#' comment lines,
// applies defaults, and validates the required keys. A missing required
// key is fatal at startup by contract; the caller decides how.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}
	return ParseConfig(raw)
}

func ParseConfig(raw []byte) (*Config, error) {
	raw = commentRe.ReplaceAll(raw, nil)
	config := &Config{}
	if err := jsoniter.Unmarshal(raw, config); err != nil {
		return nil, errors.Wrap(err, "config")
	}
	config.applyDefaults()
	return config, config.Validate()
}

func (c *Config) applyDefaults() {
	if c.BlocknameFormat == "" {
		c.BlocknameFormat = BlocknameFormatDefault
	}
	if c.CreateDefault.BlockSize == 0 {
		c.CreateDefault.BlockSize = BlockSizeDefault
	}
	if c.MetadataBackend == "" {
		if len(c.MetadataServers) == 0 {
			c.MetadataBackend = "scribble"
		} else {
			c.MetadataBackend = "etcd"
		}
	}
	if c.RPCTimeoutSec == 0 {
		c.RPCTimeoutSec = 30
	}
	if c.ID == "" {
		c.ID = c.CoreServer
	}
}

func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return NewError(ErrInvalid, "config: data_root is required")
	}
	if c.CoreServer == "" {
		return NewError(ErrInvalid, "config: core_server is required")
	}
	if c.CorePort <= 0 {
		return NewError(ErrInvalid, "config: core_port is required")
	}
	if c.CreateDefault.BlockSize <= 0 {
		return NewError(ErrInvalid, "config: create_default.block_size must be positive")
	}
	return nil
}

func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSec) * time.Second
}

// CoreAddr is the local core's bind (and dial) address.
func (c *Config) CoreAddr() string {
	return net.JoinHostPort(c.CoreServer, strconv.Itoa(c.CorePort))
}

// IfaddrCacheEnabled defaults to true when the key is absent.
func (c *Config) IfaddrCacheEnabled() bool {
	return c.IfaddrCache == nil || *c.IfaddrCache
}
