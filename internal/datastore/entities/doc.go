// Package entities defines the GORM entity models of the processing pipeline.
//
// # Audio
//
//   - Project, Recording: uploaded audio and its grouping
//   - SegmentationAlgorithm, Segmentation, Segment: call boundaries within a recording
//
// # Taxonomy and models
//
//   - Species, Call: call vocabulary of a species
//   - Classifier: trained model bound to one species
//
// # Jobs
//
//   - ClassificationRun, ClassificationResult, CallProbability
//   - TaskBatch, Task: human annotation
//   - TrainingJob
//   - ClusteringRun, Cluster, SegmentCluster, ClusterCallMapping
//   - SpectrogramJob
//
// # Users
//
//   - Notification
//
// Every run-type entity exclusively owns its children. Children are removed
// together with their parent by the store's Delete* operations.
package entities
