package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           clipsd API
// @version         1.0
// @description     HTTP API for adaptive model degradation and resource lifecycle control.
//
// @contact.name   clipsd maintainers
// @contact.url    https://github.com/your-org/clipsd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
