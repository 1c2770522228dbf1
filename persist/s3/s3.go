// Package s3 stores blocks as S3 objects named by content address.
package s3

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/treeline-db/treeline"
)

type S3Interface interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

// Store implements treeline.BlockStore on an S3 bucket.  Blocks are
// immutable, so a small LRU of recently seen addresses suppresses
// redundant puts.
type Store struct {
	s3         S3Interface
	BucketName string
	Prefix     string
	lru        *simplelru.LRU
}

var _ treeline.BlockStore = (*Store)(nil)

// NewStore returns a Store that keeps blocks as objects with the given
// S3 client, bucket name, and key prefix.
func NewStore(client S3Interface, bucketName, prefix string) *Store {
	lru, err := simplelru.NewLRU(1000, nil)
	if err != nil {
		panic(err)
	}
	return &Store{client, bucketName, prefix, lru}
}

// Put writes the block under its content address, if it wasn't
// recently written already.
func (p *Store) Put(ctx context.Context, block []byte) (treeline.Link, error) {
	link := treeline.LinkOf(block)
	name := link.String()
	if _, present := p.lru.Get(name); present {
		return link, nil
	}
	input := s3.PutObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
		Body:   bytes.NewReader(block),
	}
	_, err := p.s3.PutObjectWithContext(ctx, &input)
	if err != nil {
		return treeline.Link{}, err
	}
	p.lru.Add(name, nil)
	return link, nil
}

// Get reads the block with the given address.
func (p *Store) Get(ctx context.Context, link treeline.Link) ([]byte, error) {
	name := link.String()
	input := s3.GetObjectInput{
		Bucket: &p.BucketName,
		Key:    aws.String(p.Prefix + name),
	}
	output, err := p.s3.GetObjectWithContext(ctx, &input)
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()
	b, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, err
	}
	p.lru.Add(name, nil)
	return b, nil
}
