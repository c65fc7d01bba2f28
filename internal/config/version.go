package config

// Version da plataforma, sobrescrita via ldflags no build.
var Version = "dev"
