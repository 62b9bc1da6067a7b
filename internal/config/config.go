package config // package config loads application configuration from environment variables

import (
    "os"      // os provides access to environment variables
    "strings" // strings splits list-valued variables

    "github.com/charmbracelet/log" // log is used to report configuration errors and halt execution
    "github.com/joho/godotenv"     // godotenv loads a local .env file when present

    "github.com/iliyamo/slot-reservation/internal/database" // database supplies driver names and the MySQL DSN builder
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations.
type Config struct {
    Env           string   // application environment (e.g. "dev", "prod")
    Port          string   // HTTP port to listen on
    DBDriver      string   // "mysql" or "sqlite3"
    DBDSN         string   // driver-specific data source name
    JWTSecret     string   // secret used to verify (and, for dev tooling, sign) JWTs
    AccessTTLMin  int      // access token time‑to‑live in minutes
    LogLevel      string   // debug, info, warn or error
    WSOrigins     []string // origin patterns accepted on the lock channel upgrade
    EventsEnabled bool     // publish booking events to RabbitMQ
    BookingLogDir string   // directory the booking consumer appends to
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is loaded first when it
// exists.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    _ = godotenv.Load() // .env is optional; real env vars win

    driver := envStr("DB_DRIVER", database.DriverMySQL) // mysql in production, sqlite3 locally
    return Config{
        Env:           must("APP_ENV"),                    // environment (dev/test/prod)
        Port:          must("APP_PORT"),                   // port to bind the HTTP server
        DBDriver:      driver,                             // database driver
        DBDSN:         dsnFor(driver),                     // connection string
        JWTSecret:     must("JWT_SECRET"),                 // secret used for verifying JWTs
        AccessTTLMin:  envInt("ACCESS_TOKEN_TTL_MIN", 60), // TTL for dev access tokens in minutes
        LogLevel:      envStr("LOG_LEVEL", "info"),        // log verbosity
        WSOrigins:     splitList(os.Getenv("WS_ORIGINS")), // empty means same-origin only
        EventsEnabled: envBool("EVENTS_ENABLED", true),    // booking.confirmed publishing
        BookingLogDir: envStr("BOOKING_LOG_DIR", "logs"),  // consumer output directory
    }
}

// dsnFor returns DB_DSN when set, otherwise builds one for driver.  MySQL
// needs the discrete DB_* variables; SQLite defaults to a local file.
func dsnFor(driver string) string {
    if dsn := os.Getenv("DB_DSN"); dsn != "" {
        return dsn
    }
    if driver == database.DriverSQLite {
        return "file:slots.db?_foreign_keys=on"
    }
    return database.MySQLDSN(
        must("DB_USER"),      // database user
        os.Getenv("DB_PASS"), // database password (empty allowed)
        must("DB_HOST"),      // database host
        must("DB_PORT"),      // database port
        must("DB_NAME"),      // database name
    )
}

func splitList(s string) []string {
    var out []string
    for _, p := range strings.Split(s, ",") {
        if p = strings.TrimSpace(p); p != "" {
            out = append(out, p)
        }
    }
    return out
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatal("missing required env var", "key", key)
    }
    return v
}
