package store

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// A S3 store represents a store that is kept on AWS S3 storage. Wiki
// revisions are small, so values are uploaded with a single PUT when the
// writer is closed and downloaded whole on Open.
//
// S3 has no conditional create. Create checks for the key first, which
// only protects against writers that are not serialized by the caller.
// Do not change Bucket or Prefix concurrently with calls using the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
	sizes  *sizecache // keep HEAD info
}

// NewS3 creates a new S3 store. It will use the given bucket and will prepend
// prefix to all keys, so a bucket may be shared by several wikis. The
// authorization method and credentials in the session are used for all
// accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
		sizes:  newSizeCache(),
	}
}

// List returns a list of all the keys in this store. It will only return ones
// that satisfy the store's Prefix.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		_, err := s.list("", func(key string) { out <- key })
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
		}
	}()
	return out
}

// ListPrefix returns the keys in this store that have the given prefix.
// The argument prefix is added to the store's Prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	_, err := s.list(prefix, func(key string) { result = append(result, key) })
	return result, err
}

func (s *S3) list(prefix string, emit func(string)) (int, error) {
	var n int
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				emit(strings.TrimPrefix(*item.Key, s.Prefix))
				n++
			}
			return !lastpage
		})
	if err != nil {
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix + prefix})
	}
	return n, err
}

// Open downloads the value for the given key.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	if _, err := s.stat(key); err != nil {
		return nil, 0, err
	}
	output, err := s.svc.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if isNotFound(err) {
			s.sizes.Set(key, sizeDeleted)
			return nil, 0, ErrNotExist
		}
		log.Println("S3 Open:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Key": key})
		return nil, 0, err
	}
	defer output.Body.Close()
	var buf bytes.Buffer
	n, err := io.Copy(&buf, output.Body)
	if err != nil {
		return nil, 0, err
	}
	return memReader(buf.Bytes()), n, nil
}

// Create will return a WriteCloser which uploads its content to the given key
// when it is closed.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	_, err := s.stat(key)
	if err == nil {
		return nil, ErrKeyExists
	} else if err != ErrNotExist {
		return nil, err
	}
	return &s3WriteCloser{s: s, key: key}, nil
}

// Delete will remove the given key from the store. The store's Prefix is
// prepended first. It is not an error to delete something that doesn't exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
		return err
	}
	s.sizes.Set(key, sizeDeleted)
	return nil
}

// stat returns the size of key, or ErrNotExist. Sizes are cached, which
// drastically cuts down on the number of HEAD requests.
func (s *S3) stat(key string) (int64, error) {
	return s.sizes.Get(key, s.stat0)
}

// stat0 implements the actual HEAD request to s3.
func (s *S3) stat0(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if isNotFound(err) {
			return sizeDeleted, ErrNotExist
		}
		return 0, err
	}
	return *info.ContentLength, nil
}

func isNotFound(err error) bool {
	e, ok := err.(awserr.RequestFailure)
	return ok && e.StatusCode() == http.StatusNotFound
}

type s3WriteCloser struct {
	s   *S3
	key string
	buf bytes.Buffer
}

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	return wc.buf.Write(p)
}

func (wc *s3WriteCloser) Close() error {
	data := wc.buf.Bytes()
	_, err := wc.s.svc.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(wc.s.Bucket),
		Key:    aws.String(wc.s.Prefix + wc.key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		log.Println("S3 Put:", wc.s.Prefix, wc.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": wc.s.Bucket, "Key": wc.key})
		return err
	}
	wc.s.sizes.Set(wc.key, int64(len(data)))
	return nil
}
