// Copyright 2024 The cutout.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"fmt"
	"net"
	"time"

	"cutout.io/cutout/pkg/log"
	"cutout.io/cutout/pkg/utils"
	driver "github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Options struct {
	Driver   string `json:"driver" description:"database driver, mysql or postgres" validate:"oneof=mysql postgres"`
	Addr     string `json:"addr" description:"database host addr" validate:"required"`
	Username string `json:"username" description:"database username"`
	Password string `json:"password" description:"database password"`
	Database string `json:"database" description:"database to use" validate:"required"`
}

func NewDefaultOptions() *Options {
	return &Options{
		Driver:   DriverPostgres,
		Addr:     "cutout-db:5432",
		Username: "postgres",
		Password: "",
		Database: "cutout",
	}
}

func (o *Options) RegistFlags(prefix string, fs *pflag.FlagSet) {
	fs.StringVar(&o.Driver, utils.JoinFlagName(prefix, "driver"), o.Driver, "database driver, mysql or postgres")
	fs.StringVar(&o.Addr, utils.JoinFlagName(prefix, "addr"), o.Addr, "database host addr")
	fs.StringVar(&o.Username, utils.JoinFlagName(prefix, "username"), o.Username, "database username")
	fs.StringVar(&o.Password, utils.JoinFlagName(prefix, "password"), o.Password, "database password")
	fs.StringVar(&o.Database, utils.JoinFlagName(prefix, "database"), o.Database, "database to use")
}

type Database struct {
	db      *gorm.DB
	options *Options
}

func (o *Database) DB() *gorm.DB {
	return o.db
}

func (o *Database) Options() *Options {
	return o.options
}

func NewDatabase(options *Options) (*Database, error) {
	dialector, err := options.Dialector()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: log.NewDefaultGormZapLogger(),
	})
	if err != nil {
		return nil, err
	}
	return &Database{db: db, options: options}, nil
}

func (opts *Options) Dialector() (gorm.Dialector, error) {
	switch opts.Driver {
	case DriverMySQL, "":
		return mysql.Open(opts.ToDsn()), nil
	case DriverPostgres:
		return postgres.Open(opts.ToPostgresDsn()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func (opts *Options) ToDsn() string {
	return opts.ToDriverConfig().FormatDSN()
}

func (opts *Options) ToDriverConfig() *driver.Config {
	cfg := driver.NewConfig()
	cfg.User = opts.Username
	cfg.Passwd = opts.Password
	cfg.Net = "tcp"
	cfg.Addr = opts.Addr
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	cfg.Collation = "utf8mb4_general_ci"
	cfg.Loc = time.UTC
	cfg.AllowNativePasswords = true
	return cfg
}

func (opts *Options) ToPostgresDsn() string {
	host, port, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		host, port = opts.Addr, "5432"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		host, port, opts.Username, opts.Password, opts.Database)
}
