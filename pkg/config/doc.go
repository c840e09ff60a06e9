// Package config loads typed configuration structs from environment
// variables using github.com/caarlos0/env field tags, with optional .env
// support via github.com/joho/godotenv.
//
// Configuration types are cached per process so that independently wired
// components asking for the same config type always see the same values.
package config
