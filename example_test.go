package datastore_test

import (
	"context"
	"fmt"

	"go.mercari.io/dsrpc"
	"go.mercari.io/dsrpc/clouddatastore"
	"google.golang.org/api/iterator"
)

func Example_clientGet() {
	ctx := context.Background()
	client, err := clouddatastore.FromContext(ctx)
	if err != nil {
		panic(err)
	}
	defer client.Close()

	type Data struct {
		Name string
	}

	key := datastore.IncompleteKey("Data", nil)
	entity := &Data{Name: "mercari"}
	key, err = client.Put(ctx, key, entity)
	if err != nil {
		panic(err)
	}

	entity = &Data{}
	err = client.Get(ctx, key, entity)
	if err != nil {
		panic(err)
	}

	fmt.Println(entity.Name)
}

func Example_query() {
	ctx := context.Background()
	client, err := clouddatastore.FromContext(ctx, datastore.WithNamespace("example"))
	if err != nil {
		panic(err)
	}
	defer client.Close()

	type Post struct {
		Content string
		Order   int
	}

	q := datastore.NewQuery("Post").Filter("Order >=", 10).Order("Order").Limit(100)
	it := client.Run(ctx, q)
	for {
		post := &Post{}
		key, err := it.Next(post)
		if err == iterator.Done {
			break
		} else if err != nil {
			panic(err)
		}
		fmt.Println(key.ID, post.Content)
	}

	// resume from where the iterator stopped
	cursor, err := it.Cursor()
	if err != nil {
		panic(err)
	}
	var rest []*Post
	_, err = client.GetAll(ctx, q.Start(cursor), &rest)
	if err != nil {
		panic(err)
	}
}

func Example_transaction() {
	ctx := context.Background()
	client, err := clouddatastore.FromContext(ctx)
	if err != nil {
		panic(err)
	}
	defer client.Close()

	type Counter struct {
		Count int
	}

	key := datastore.NameKey("Counter", "visits", nil)
	_, err = client.RunInTransaction(ctx, func(tx datastore.Transaction) error {
		c := &Counter{}
		if err := tx.Get(key, c); err != nil && err != datastore.ErrNoSuchEntity {
			return err
		}
		c.Count++
		_, err := tx.Put(key, c)
		return err
	}, datastore.MaxAttempts(3))
	if err != nil {
		panic(err)
	}
}

func Example_batch() {
	ctx := context.Background()
	cli, err := clouddatastore.FromContext(ctx)
	if err != nil {
		panic(err)
	}
	defer cli.Close()

	type Comment struct {
		Message string
	}
	type Post struct {
		Content    string
		CommentIDs []int64
		Comments   []*Comment `datastore:"-"`
	}

	posts := make([]*Post, 0)
	_, err = cli.GetAll(ctx, datastore.NewQuery("Post").Order("Content"), &posts)
	if err != nil {
		panic(err)
	}

	// Let's batch get!
	bt := cli.Batch()

	for _, post := range posts {
		comments := make([]*Comment, 0)
		for _, id := range post.CommentIDs {
			comment := &Comment{}
			bt.Get(datastore.IDKey("Comment", id, nil), comment, func(err error) error {
				if err == datastore.ErrNoSuchEntity {
					// ignore ErrNoSuchEntity
					return nil
				}
				return err
			})
			comments = append(comments, comment)
		}
		post.Comments = comments
	}

	err = bt.Exec(ctx)
	if err != nil {
		panic(err)
	}

	for _, post := range posts {
		fmt.Println("Post", post.Content)
		for _, comment := range post.Comments {
			fmt.Println("Comment", comment.Message)
		}
	}
}
