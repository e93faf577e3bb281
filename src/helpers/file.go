package helpers

import (
	"os"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// FileExists checks if a file exists and is not a directory
func FileExists(filename string, logger *zap.SugaredLogger) bool {
	info, err := os.Stat(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Infof("Error checking file %s for existence: %s", filename, err)
		}
		return false
	}

	return !info.IsDir()
}

// EncodeBSON encodes a value into BSON
func EncodeBSON(value interface{}) ([]byte, error) {
	return bson.Marshal(value)
}

// DecodeBSON decodes BSON data into the given destination
func DecodeBSON(data []byte, dest interface{}) error {
	return bson.Unmarshal(data, dest)
}
