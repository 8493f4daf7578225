package main

import (
	"github.com/alecthomas/kong"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Context struct {
	Debug bool

	gorm.Config
	gorm.Dialector
}

var cli struct {
	DSN   string `help:"data source name" default:"shelfpub.db"`
	Debug bool   `help:"Enable debug mode."`

	Serve          ServeCmd          `cmd:"" help:"Serve the federation endpoints."`
	AutoMigrate    AutoMigrateCmd    `cmd:"" help:"Create or update the database schema."`
	CreateInstance CreateInstanceCmd `cmd:"" help:"Create the instance service account."`
	CreateAccount  CreateAccountCmd  `cmd:"" help:"Create a local account."`
	Follow         FollowCmd         `cmd:"" help:"Follow a remote actor."`
}

func main() {
	ctx := kong.Parse(&cli)
	logLevel := logger.Warn
	if cli.Debug {
		logLevel = logger.Info
	}
	err := ctx.Run(&Context{
		Debug:     cli.Debug,
		Dialector: newDialector(cli.DSN),
		Config: gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logLevel),
		},
	})
	ctx.FatalIfErrorf(err)
}
