package app

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type envVars struct {
	Environment string `split_words:"true"`

	StoreDir string `required:"true" split_words:"true"`
	ReadOnly bool   `split_words:"true"`
}

func mustLoadEnv() envVars {
	var env envVars

	err := godotenv.Load()
	if err != nil {
		panic(err)
	}

	envconfig.MustProcess("GRAPHDB", &env)

	if env.Environment != "" && env.Environment != EnvDev && env.Environment != EnvProd {
		panic("invalid environment")
	} else if env.Environment == "" {
		env.Environment = EnvDev
	}

	return env
}
