package main

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-pothole/benchmark"
	"github.com/nvr-ai/go-pothole/detector"
	"github.com/nvr-ai/go-pothole/images"
	"github.com/nvr-ai/go-pothole/inference"
	"github.com/nvr-ai/go-pothole/util"
)

// runBenchmark loads the model directly, bypassing the detector, so each
// pipeline stage can be timed on its own.
func runBenchmark(
	ctx context.Context,
	log *logrus.Logger,
	cfg detector.Config,
	loader inference.Loader,
	modelPath string,
	paths []string,
	dir string,
	iterations int,
	outDir string,
) error {
	corpus, err := loadCorpus(paths, dir)
	if err != nil {
		return err
	}

	model, err := inference.ReadModel(ctx, inference.FileSource(modelPath))
	if err != nil {
		return err
	}
	engine, err := loader.Load(ctx, model, cfg.ModelSpec())
	if err != nil {
		return errors.Wrap(err, "load model")
	}
	if c, ok := engine.(io.Closer); ok {
		defer c.Close()
	}

	suite, err := benchmark.NewSuite(engine, cfg, corpus, log)
	if err != nil {
		return err
	}
	scenario := benchmark.DefaultScenario(modelPath)
	scenario.Iterations = iterations
	if _, err := suite.Run(ctx, scenario); err != nil {
		return err
	}

	path, err := suite.SaveResults(outDir)
	if err != nil {
		return err
	}
	log.WithField("path", path).Info("benchmark results saved")
	return nil
}

func loadCorpus(paths []string, dir string) ([]images.Raster, error) {
	var corpus []images.Raster
	for _, p := range paths {
		r, err := images.LoadRaster(p)
		if err != nil {
			return nil, err
		}
		corpus = append(corpus, r)
	}
	if dir != "" {
		files, err := util.LoadDirectoryImageFiles(dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			img, err := images.DecodeBytes(f.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "decode %s", f.Path)
			}
			corpus = append(corpus, images.FromImage(img))
		}
	}
	if len(corpus) == 0 {
		return nil, errors.New("benchmark needs --image or --dir")
	}
	return corpus, nil
}
