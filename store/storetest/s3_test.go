package storetest

import (
	"os"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/ndlib/wikistore/store"
)

// TestS3 runs against a local Minio server when WIKI_S3_TEST is set, e.g.
//
//	WIKI_S3_TEST=http://localhost:9000 go test ./store/storetest
func TestS3(t *testing.T) {
	endpoint := os.Getenv("WIKI_S3_TEST")
	if endpoint == "" {
		t.Skip("WIKI_S3_TEST not set")
	}
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(endpoint),
		Region:           aws.String("us-east-1"),
		DisableSSL:       aws.Bool(true),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		t.Fatal(err)
	}
	s := store.NewS3("wikistore-test", t.Name()+"/", sess)
	Run(t, s)
	Race(t, s, 10)
}
