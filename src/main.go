package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"stratadb/src/instance"
	"stratadb/src/objectstore"
	"stratadb/src/registry"
	"stratadb/src/settings"
	"stratadb/src/storage"

	"go.uber.org/zap"
)

// printUsage prints helpful usage information
func printUsage() {
	log.Println("StrataDB - embedded object database inspector")
	log.Println("\nUsage:")
	log.Println("  stratadb [options] <command>")
	log.Println("\nCommands:")
	log.Println("  version   print the stored schema version of a database file")
	log.Println("  schema    print the object types and properties stored in a file")
	log.Println("  compact   rewrite a database file to reclaim space")
	log.Println("\nOptions:")
	flag.PrintDefaults()

	log.Println("\nExamples:")
	log.Println("  stratadb --path=app.strata version")
	log.Println("  stratadb --path=app.strata --key-hex=6b6579... schema")
}

func main() {
	args := settings.GetSettings()

	var path, keyHex string
	flag.StringVar(&args.DataDir, "datadir", "./datafiles", "Directory database files are resolved against")
	flag.StringVar(&args.ConfigFile, "config", "", "Path to config file")
	flag.BoolVar(&args.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&args.Debug, "debug", false, "Enable debug mode")
	flag.StringVar(&path, "path", "", "Database file to operate on")
	flag.StringVar(&keyHex, "key-hex", "", "Hex-encoded encryption key of the file")
	flag.Parse()

	if args.ConfigFile != "" {
		if err := args.LoadConfigFile(args.ConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n\n", err)
			os.Exit(1)
		}
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Error: --path is required")
		printUsage()
		os.Exit(1)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(args.DataDir, path)
	}

	var key []byte
	if keyHex != "" {
		decoded, err := hex.DecodeString(keyHex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --key-hex: %s\n", err)
			os.Exit(1)
		}
		key = decoded
	}

	var logger *zap.Logger
	var err error
	if args.Debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stderr"}
		logger, err = z.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if args.Verbose {
		log.Println("StrataDB starting with options:")
		log.Printf("  Data Directory: %s\n", args.DataDir)
		log.Printf("  Path: %s\n", path)
		log.Printf("  Config File: %s\n", args.ConfigFile)
	}

	engine := storage.NewEngine(sugar)
	var regOpts []registry.Option
	if args.DisableEncryption {
		regOpts = append(regOpts, registry.WithEncryptionDisabled())
	}
	reg := registry.NewRegistry(sugar, regOpts...)

	command := flag.Arg(0)
	if command == "" {
		command = "version"
	}

	switch command {
	case "version":
		err = printVersion(engine, sugar, path, key)
	case "schema":
		err = printSchema(engine, reg, sugar, path, key)
	case "compact":
		err = compact(engine, reg, sugar, path, key)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func printVersion(engine *storage.Engine, logger *zap.SugaredLogger, path string, key []byte) error {
	group, err := engine.Open(storage.GroupConfig{Path: path, Key: key, ReadOnly: true})
	if err != nil {
		return err
	}
	defer group.Close()

	store := objectstore.NewStore(logger)
	version := store.SchemaVersion(group)
	if version == objectstore.NotVersioned {
		fmt.Println("unversioned")
	} else {
		fmt.Println(version)
	}
	return nil
}

func printSchema(engine *storage.Engine, reg *registry.Registry, logger *zap.SugaredLogger, path string, key []byte) error {
	inst, err := instance.Open(engine, reg, instance.Config{
		Path:     path,
		Key:      key,
		ReadOnly: true,
		Dynamic:  true,
	}, logger)
	if err != nil {
		return err
	}
	defer inst.Close()

	for _, objectSchema := range inst.Schema().Objects {
		fmt.Printf("%s:\n", objectSchema.Name)
		for _, prop := range objectSchema.Properties {
			desc := prop.Type.String()
			if prop.Type.IsLink() {
				desc = fmt.Sprintf("%s<%s>", prop.Type, prop.ObjectType)
			}
			flags := ""
			if prop.Name == objectSchema.PrimaryKey {
				flags += " primary"
			}
			if prop.Indexed {
				flags += " indexed"
			}
			if prop.Nullable {
				flags += " nullable"
			}
			fmt.Printf("  %s: %s%s\n", prop.Name, desc, flags)
		}
	}
	return nil
}

func compact(engine *storage.Engine, reg *registry.Registry, logger *zap.SugaredLogger, path string, key []byte) error {
	inst, err := instance.Open(engine, reg, instance.Config{
		Path:    path,
		Key:     key,
		Dynamic: true,
	}, logger)
	if err != nil {
		return err
	}
	defer inst.Close()

	compacted, err := inst.Compact()
	if err != nil {
		return err
	}
	if compacted {
		fmt.Println("compacted")
	} else {
		fmt.Println("nothing to compact")
	}
	return nil
}
